package inbox

import (
	"path/filepath"
	"testing"
	"time"
)

func fixedClock(ts string) Clock {
	t, _ := time.Parse(time.RFC3339, ts)
	return func() time.Time { return t }
}

// --- Enqueue / LoadAndClear round trip ---

func TestEnqueueLoadAndClear_RoundTrips(t *testing.T) {
	box := &Inbox{Path: filepath.Join(t.TempDir(), "human_message.txt"), Now: fixedClock("2026-01-05T10:00:00Z")}
	if err := box.Enqueue("please check the camera mount"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := box.LoadAndClear()
	if err != nil {
		t.Fatalf("LoadAndClear: %v", err)
	}
	if got != "please check the camera mount" {
		t.Errorf("expected message text stripped of ts= line, got %q", got)
	}
}

func TestEnqueue_RejectsEmptyText(t *testing.T) {
	box := New(filepath.Join(t.TempDir(), "human_message.txt"))
	if err := box.Enqueue("   "); err == nil {
		t.Error("expected error for empty message text")
	}
}

func TestLoadAndClear_NoFileReturnsEmptyString(t *testing.T) {
	box := New(filepath.Join(t.TempDir(), "nope.txt"))
	got, err := box.LoadAndClear()
	if err != nil || got != "" {
		t.Errorf("expected empty result with no error, got %q err=%v", got, err)
	}
}

func TestLoadAndClear_RemovesFileAfterRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "human_message.txt")
	box := &Inbox{Path: path, Now: fixedClock("2026-01-05T10:00:00Z")}
	box.Enqueue("hello")
	box.LoadAndClear()
	if _, err := box.LoadAndClear(); err != nil {
		t.Fatalf("second load should not error: %v", err)
	}
	got, _ := box.LoadAndClear()
	if got != "" {
		t.Errorf("expected file to be consumed, got %q", got)
	}
}

// --- IsTerminateCommand ---

func TestIsTerminateCommand_MatchesKnownMarkers(t *testing.T) {
	cases := []string{
		"please terminate now",
		"Shutdown the device",
		"time to power down",
		"stop this device immediately",
		"goodbye, friend",
	}
	for _, c := range cases {
		if !IsTerminateCommand(c) {
			t.Errorf("expected %q to be recognized as a terminate command", c)
		}
	}
}

func TestIsTerminateCommand_FalseForOrdinaryMessage(t *testing.T) {
	if IsTerminateCommand("please check on the hardware tomorrow") {
		t.Error("unexpected terminate match for ordinary message")
	}
}

func TestIsTerminateCommand_FalseForEmpty(t *testing.T) {
	if IsTerminateCommand("   ") {
		t.Error("unexpected terminate match for blank message")
	}
}
