package worker

import "testing"

// --- extractJSONObject ---

func TestExtractJSONObject_DirectJSONParses(t *testing.T) {
	got, ok := extractJSONObject(`{"status":"COMPLETED","summary":"done"}`)
	if !ok || got["status"] != "COMPLETED" {
		t.Fatalf("expected direct parse, got %v ok=%v", got, ok)
	}
}

func TestExtractJSONObject_ExtractsFromSurroundingProse(t *testing.T) {
	raw := "Here is the result:\n{\"status\":\"COMPLETED\",\"summary\":\"done\"}\nThanks!"
	got, ok := extractJSONObject(raw)
	if !ok || got["status"] != "COMPLETED" {
		t.Fatalf("expected object extracted from prose, got %v ok=%v", got, ok)
	}
}

func TestExtractJSONObject_NoObjectFailsGracefully(t *testing.T) {
	_, ok := extractJSONObject("no json here at all")
	if ok {
		t.Error("expected ok=false when no object is present")
	}
}

// --- normalizeWorkerResult ---

func TestNormalizeWorkerResult_MapsLegacyStatusAliases(t *testing.T) {
	payload := map[string]any{"status": "SUCCESS"}
	got := normalizeWorkerResult(payload, "cycle-001")
	if got["status"] != "COMPLETED" {
		t.Errorf("expected SUCCESS mapped to COMPLETED, got %v", got["status"])
	}
}

func TestNormalizeWorkerResult_CoercesUnknownStatusToBlocked(t *testing.T) {
	payload := map[string]any{"status": "WEIRD"}
	got := normalizeWorkerResult(payload, "cycle-001")
	if got["status"] != "BLOCKED" {
		t.Errorf("expected unknown status coerced to BLOCKED, got %v", got["status"])
	}
}

func TestNormalizeWorkerResult_FillsDefaultsWhenMissing(t *testing.T) {
	payload := map[string]any{"status": "COMPLETED"}
	got := normalizeWorkerResult(payload, "cycle-007")
	if got["schema_version"] != "1.0" {
		t.Errorf("expected schema_version default, got %v", got["schema_version"])
	}
	if got["cycle_id"] != "cycle-007" {
		t.Errorf("expected cycle_id defaulted from argument, got %v", got["cycle_id"])
	}
}

func TestNormalizeWorkerResult_MigratesLegacyTasksField(t *testing.T) {
	payload := map[string]any{"status": "COMPLETED", "tasks": []any{map[string]any{"title": "legacy"}}}
	got := normalizeWorkerResult(payload, "cycle-001")
	if _, hasLegacy := got["tasks"]; hasLegacy {
		t.Error("expected legacy 'tasks' key removed")
	}
	proposed, ok := got["proposed_tasks"].([]any)
	if !ok || len(proposed) != 1 {
		t.Errorf("expected legacy tasks migrated to proposed_tasks, got %v", got["proposed_tasks"])
	}
}

func TestNormalizeWorkerResult_PrefersExplicitProposedTasksOverLegacy(t *testing.T) {
	payload := map[string]any{
		"status":         "COMPLETED",
		"tasks":          []any{map[string]any{"title": "legacy"}},
		"proposed_tasks": []any{map[string]any{"title": "explicit"}},
	}
	got := normalizeWorkerResult(payload, "cycle-001")
	proposed, _ := got["proposed_tasks"].([]any)
	if len(proposed) != 1 {
		t.Fatalf("expected explicit proposed_tasks retained untouched, got %v", proposed)
	}
	entry := proposed[0].(map[string]any)
	if entry["title"] != "explicit" {
		t.Errorf("expected explicit proposed_tasks to win over legacy, got %v", entry)
	}
}

func TestNormalizeWorkerResult_NormalizesIncidentSeverityAndStatus(t *testing.T) {
	payload := map[string]any{
		"status": "COMPLETED",
		"incidents": []any{
			map[string]any{"severity": "critical", "status": "weird"},
		},
	}
	got := normalizeWorkerResult(payload, "cycle-001")
	incidents := got["incidents"].([]any)
	incident := incidents[0].(map[string]any)
	if incident["severity"] != "MEDIUM" {
		t.Errorf("expected unknown severity coerced to MEDIUM, got %v", incident["severity"])
	}
	if incident["status"] != "OPEN" {
		t.Errorf("expected unknown status coerced to OPEN, got %v", incident["status"])
	}
}
