package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

// --- Execute: skip mode ---

func TestExecute_SkipModeWritesBlockedPlaceholder(t *testing.T) {
	t.Setenv("WDIB_SKIP_CODEX", "true")
	resultPath := filepath.Join(t.TempDir(), "runtime", "worker_results", "cycle-001.json")
	wo := model.WorkOrder{SchemaVersion: model.SchemaVersion, CycleID: "cycle-001", ResultPath: resultPath}

	result, metadata, err := Execute(context.Background(), wo, t.TempDir(), 60)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != string(model.WorkerBlocked) {
		t.Errorf("expected BLOCKED placeholder status, got %q", result.Status)
	}
	if metadata.Mode != "skipped" {
		t.Errorf("expected mode=skipped, got %q", metadata.Mode)
	}
}

// --- Execute: missing binary ---

func TestExecute_MissingBinaryReturnsRunFailure(t *testing.T) {
	t.Setenv("WDIB_SKIP_CODEX", "false")
	t.Setenv("WDIB_CODEX_BIN", "wdib-worker-binary-that-does-not-exist")
	wo := model.WorkOrder{SchemaVersion: model.SchemaVersion, CycleID: "cycle-001", ResultPath: filepath.Join(t.TempDir(), "result.json")}

	_, _, err := Execute(context.Background(), wo, t.TempDir(), 60)
	if err == nil {
		t.Fatal("expected an error for a missing worker binary")
	}
	if _, ok := err.(*RunFailure); !ok {
		t.Errorf("expected *RunFailure, got %T", err)
	}
}

// --- promptFromWorkOrder ---

func TestPromptFromWorkOrder_EmbedsWorkOrderJSON(t *testing.T) {
	wo := model.WorkOrder{SchemaVersion: model.SchemaVersion, CycleID: "cycle-001", Objective: "map the hallway"}
	prompt, err := promptFromWorkOrder(wo)
	if err != nil {
		t.Fatalf("promptFromWorkOrder: %v", err)
	}
	if !strings.Contains(prompt, "map the hallway") {
		t.Errorf("expected objective embedded in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "WORK_ORDER_JSON") {
		t.Errorf("expected WORK_ORDER_JSON marker in prompt")
	}
}
