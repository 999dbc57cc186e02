package hardware

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

func fixedClock(ts string) Clock {
	t, _ := time.Parse(time.RFC3339, ts)
	return func() time.Time { return t }
}

// --- detect ---

func TestDetect_PathExistsTrueForRealFile(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	f := filepath.Join(t.TempDir(), "sensor")
	os.WriteFile(f, []byte("x"), 0o644)
	ok, _ := r.detect(context.Background(), model.Detection{Kind: string(model.DetectionPathExists), Value: f})
	if !ok {
		t.Error("expected path_exists to detect the real file")
	}
}

func TestDetect_PathExistsFalseForMissingFile(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	ok, _ := r.detect(context.Background(), model.Detection{Kind: string(model.DetectionPathExists), Value: filepath.Join(t.TempDir(), "missing")})
	if ok {
		t.Error("expected path_exists to fail for missing file")
	}
}

func TestDetect_GlobExistsMatchesPattern(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "video0"), []byte("x"), 0o644)
	ok, _ := r.detect(context.Background(), model.Detection{Kind: string(model.DetectionGlobExists), Value: filepath.Join(dir, "video*")})
	if !ok {
		t.Error("expected glob_exists to match video0")
	}
}

func TestDetect_CommandSuccessTrueForTrueCommand(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	ok, _ := r.detect(context.Background(), model.Detection{Kind: string(model.DetectionCommandSuccess), Value: "true"})
	if !ok {
		t.Error("expected command_success(true) to succeed")
	}
}

func TestDetect_CommandSuccessFalseForFalseCommand(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	ok, _ := r.detect(context.Background(), model.Detection{Kind: string(model.DetectionCommandSuccess), Value: "false"})
	if ok {
		t.Error("expected command_success(false) to fail")
	}
}

func TestDetect_UnknownKindFails(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	ok, evidence := r.detect(context.Background(), model.Detection{Kind: "made_up_kind", Value: "x"})
	if ok {
		t.Error("expected unknown detection kind to never succeed")
	}
	if evidence == "" {
		t.Error("expected non-empty evidence string")
	}
}

// --- Probe ---

func TestProbe_OpenToDetectedWithNoVerifyCommandGoesStraightToVerified(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	f := filepath.Join(t.TempDir(), "sensor")
	os.WriteFile(f, []byte("x"), 0o644)
	requests := []model.HardwareRequest{{ID: "hw-1", Status: string(model.HardwareOpen), Detection: model.Detection{Kind: string(model.DetectionPathExists), Value: f}}}
	events := r.Probe(context.Background(), requests)
	if requests[0].Status != string(model.HardwareVerified) {
		t.Fatalf("expected VERIFIED, got %q", requests[0].Status)
	}
	if len(events) != 2 {
		t.Errorf("expected two status-change events (OPEN->DETECTED, DETECTED->VERIFIED), got %d", len(events))
	}
}

func TestProbe_DetectedFallsBackToOpenWhenSignalLost(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	requests := []model.HardwareRequest{{ID: "hw-1", Status: string(model.HardwareDetected), Detection: model.Detection{Kind: string(model.DetectionPathExists), Value: filepath.Join(t.TempDir(), "gone")}}}
	events := r.Probe(context.Background(), requests)
	if requests[0].Status != string(model.HardwareOpen) {
		t.Fatalf("expected fallback to OPEN, got %q", requests[0].Status)
	}
	if len(events) != 1 || events[0].Type() != "HARDWARE_STATUS_CHANGED" {
		t.Fatalf("expected one HARDWARE_STATUS_CHANGED event, got %v", events)
	}
}

func TestProbe_SkipsVerifiedAndFailedRequests(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	requests := []model.HardwareRequest{
		{ID: "hw-1", Status: string(model.HardwareVerified)},
		{ID: "hw-2", Status: string(model.HardwareFailed)},
	}
	events := r.Probe(context.Background(), requests)
	if len(events) != 0 {
		t.Errorf("expected no events for terminal-status requests, got %v", events)
	}
}

func TestProbe_VerifyCommandFailureIncrementsFailuresAndEmitsEvent(t *testing.T) {
	r := &Reconciler{CommandTimeout: 2 * time.Second, Now: fixedClock("2026-01-05T00:00:00Z")}
	f := filepath.Join(t.TempDir(), "sensor")
	os.WriteFile(f, []byte("x"), 0o644)
	requests := []model.HardwareRequest{{
		ID: "hw-1", Status: string(model.HardwareOpen),
		Detection:     model.Detection{Kind: string(model.DetectionPathExists), Value: f},
		VerifyCommand: "false",
	}}
	events := r.Probe(context.Background(), requests)
	if requests[0].Status != string(model.HardwareDetected) {
		t.Fatalf("expected DETECTED (verify failed), got %q", requests[0].Status)
	}
	if requests[0].VerifyFailures != 1 {
		t.Errorf("expected verify_failures incremented to 1, got %d", requests[0].VerifyFailures)
	}
	foundFail := false
	for _, e := range events {
		if e.Type() == "HARDWARE_VERIFICATION_FAILED" {
			foundFail = true
		}
	}
	if !foundFail {
		t.Error("expected HARDWARE_VERIFICATION_FAILED event")
	}
}
