// Package inbox manages the single pending human message a device can hold
// between ticks, and the terminate-command heuristic runtime checks against
// it.
package inbox

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// terminateMarkers is the closed, case-insensitive substring list that
// marks a human message as a termination request.
var terminateMarkers = []string{
	"terminate",
	"shutdown",
	"shut down",
	"power down",
	"stop this device",
	"stop device",
	"kill command",
	"kill wdib",
	"goodbye",
}

// Clock abstracts "now" for deterministic tests.
type Clock func() time.Time

// Inbox reads/writes the single human_message.txt file for one device.
type Inbox struct {
	Path string
	Now  Clock
}

// New returns an Inbox rooted at path using the real wall clock.
func New(path string) *Inbox {
	return &Inbox{Path: path, Now: time.Now}
}

func (i *Inbox) now() time.Time {
	if i.Now == nil {
		return time.Now()
	}
	return i.Now()
}

// Enqueue writes a pending human message for the next tick. The caller is
// responsible for ensuring the parent directory exists.
func (i *Inbox) Enqueue(text string) error {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return fmt.Errorf("human message text cannot be empty")
	}
	payload := fmt.Sprintf("ts=%s\n%s\n", i.now().UTC().Format("2006-01-02T15:04:05Z07:00"), cleaned)
	return os.WriteFile(i.Path, []byte(payload), 0o644)
}

// LoadAndClear returns the pending message text (with its leading ts=
// line stripped) and removes it from the inbox. Returns "" if no message
// is pending.
func (i *Inbox) LoadAndClear() (string, error) {
	raw, err := os.ReadFile(i.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading human message: %w", err)
	}
	if err := os.Remove(i.Path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("clearing human message: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	if len(lines) > 0 && strings.HasPrefix(lines[0], "ts=") {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// IsTerminateCommand reports whether messageText contains any of the
// closed set of stop/terminate markers.
func IsTerminateCommand(messageText string) bool {
	lowered := strings.ToLower(strings.TrimSpace(messageText))
	if lowered == "" {
		return false
	}
	for _, marker := range terminateMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
