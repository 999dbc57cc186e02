// Package hardware reconciles hardware_requests against machine-observed
// signals each tick: OPEN -> DETECTED -> VERIFIED, with FAILED as a manual
// terminal state the reconciler never assigns itself. Grounded in the
// teacher's internal/tools/shell.go (RunShell: bash -c with a hard timeout)
// for command-based probes.
package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

const noteEvidenceCap = 240

// Clock abstracts "today" so tests can pin a date without wall-clock races.
type Clock func() time.Time

// Reconciler probes hardware requests once per tick.
type Reconciler struct {
	CommandTimeout time.Duration
	Now            Clock
}

// New builds a Reconciler with the given command timeout (see
// WDIB_HW_COMMAND_TIMEOUT_SECONDS) and the real wall clock.
func New(commandTimeout time.Duration) *Reconciler {
	return &Reconciler{CommandTimeout: commandTimeout, Now: time.Now}
}

func (r *Reconciler) today() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format("2006-01-02")
}

// runShell executes value as "bash -c value" with the reconciler's
// configured timeout, returning (success, combined trimmed output).
func (r *Reconciler) runShell(ctx context.Context, command string) (bool, string) {
	timeout := r.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	output := outBuf.String()
	if errBuf.Len() > 0 {
		output = strings.TrimSpace(output + "\n" + errBuf.String())
	} else {
		output = strings.TrimSpace(output)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("timeout after %s", timeout)
	}
	return err == nil, output
}

func (r *Reconciler) detect(ctx context.Context, d model.Detection) (bool, string) {
	kind := strings.TrimSpace(d.Kind)
	value := strings.TrimSpace(d.Value)

	switch model.DetectionKind(kind) {
	case model.DetectionPathExists:
		_, statErr := osStat(value)
		return statErr == nil, fmt.Sprintf("path_exists(%s)", value)

	case model.DetectionGlobExists:
		matches, err := doublestar.FilepathGlob(value)
		if err != nil {
			return false, fmt.Sprintf("glob_exists(%s) -> error: %v", value, err)
		}
		return len(matches) > 0, fmt.Sprintf("glob_exists(%s) -> %d match(es)", value, len(matches))

	case model.DetectionCommandSuccess:
		ok, output := r.runShell(ctx, value)
		return ok, fmt.Sprintf("command_success(%s) -> %s", value, capString(output, 200))

	case model.DetectionLsusbContains:
		ok, output := r.runShell(ctx, "lsusb")
		if !ok {
			return false, fmt.Sprintf("lsusb failed: %s", capString(output, 200))
		}
		found := strings.Contains(strings.ToLower(output), strings.ToLower(value))
		return found, fmt.Sprintf("lsusb_contains(%s)", value)

	default:
		return false, fmt.Sprintf("unknown detection kind: %s", kind)
	}
}

func osStat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func capString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func appendNote(existing, note, today string) string {
	prefix := strings.TrimSpace(existing)
	line := fmt.Sprintf("[%s] %s", today, note)
	if prefix == "" {
		return line
	}
	return prefix + "\n" + line
}

// Probe advances every OPEN/DETECTED hardware_request in place and returns
// the HARDWARE_STATUS_CHANGED / HARDWARE_VERIFICATION_FAILED events raised
// this tick, mirroring probe_hardware_requests.
func (r *Reconciler) Probe(ctx context.Context, requests []model.HardwareRequest) []model.Event {
	var events []model.Event
	today := r.today()

	for i := range requests {
		req := &requests[i]
		status := model.HardwareStatus(req.Status)
		if status == "" {
			status = model.HardwareOpen
		}
		if status == model.HardwareVerified || status == model.HardwareFailed {
			continue
		}

		req.LastCheckedOn = &today
		detected, evidence := r.detect(ctx, req.Detection)
		previous := status

		switch {
		case detected:
			if status == model.HardwareOpen {
				req.Status = string(model.HardwareDetected)
				req.DetectedOn = &today
				events = append(events, model.NewEvent("HARDWARE_STATUS_CHANGED").
					With("request_id", req.ID).
					With("from", string(previous)).
					With("to", string(model.HardwareDetected)).
					With("evidence", evidence))
				status = model.HardwareDetected
			}

			verifyCommand := strings.TrimSpace(req.VerifyCommand)
			if verifyCommand != "" {
				ok, verifyOutput := r.runShell(ctx, verifyCommand)
				if ok {
					req.Status = string(model.HardwareVerified)
					req.VerifiedOn = &today
					req.Notes = appendNote(req.Notes, fmt.Sprintf("Verification passed: %s", verifyCommand), today)
					events = append(events, model.NewEvent("HARDWARE_STATUS_CHANGED").
						With("request_id", req.ID).
						With("from", string(status)).
						With("to", string(model.HardwareVerified)).
						With("evidence", capString(verifyOutput, noteEvidenceCap)))
				} else {
					req.VerifyFailures++
					req.Notes = appendNote(req.Notes, fmt.Sprintf("Verification failed (%s): %s", verifyCommand, capString(verifyOutput, noteEvidenceCap)), today)
					events = append(events, model.NewEvent("HARDWARE_VERIFICATION_FAILED").
						With("request_id", req.ID).
						With("verify_failures", req.VerifyFailures).
						With("evidence", capString(verifyOutput, noteEvidenceCap)))
				}
			} else {
				req.Status = string(model.HardwareVerified)
				req.VerifiedOn = &today
				events = append(events, model.NewEvent("HARDWARE_STATUS_CHANGED").
					With("request_id", req.ID).
					With("from", string(status)).
					With("to", string(model.HardwareVerified)).
					With("evidence", "No verify_command provided; detection accepted as verification."))
			}

		case status == model.HardwareDetected:
			req.Status = string(model.HardwareOpen)
			req.DetectedOn = nil
			req.Notes = appendNote(req.Notes, "Detection signal no longer present; moved back to OPEN.", today)
			events = append(events, model.NewEvent("HARDWARE_STATUS_CHANGED").
				With("request_id", req.ID).
				With("from", string(model.HardwareDetected)).
				With("to", string(model.HardwareOpen)).
				With("evidence", evidence))
		}
	}

	return events
}
