package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONObject returns the longest substring of raw that starts at its
// first '{', ends at a '}', and parses as a JSON object, tolerating prose the
// worker may have framed the JSON with. Objects starting after the first '{'
// are not tried. Returns ok=false if no candidate parses.
func extractJSONObject(raw string) (map[string]any, bool) {
	var direct map[string]any
	if err := json.Unmarshal([]byte(raw), &direct); err == nil {
		return direct, true
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	for e := end; e > start; e = strings.LastIndexByte(raw[:e], '}') {
		var candidate map[string]any
		if err := json.Unmarshal([]byte(raw[start:e+1]), &candidate); err == nil {
			return candidate, true
		}
	}
	return nil, false
}

var legacyStatusMap = map[string]string{
	"SUCCESS": "COMPLETED",
	"ERROR":   "FAILED",
	"PENDING": "BLOCKED",
}

var validWorkerStatuses = map[string]bool{
	"COMPLETED": true,
	"BLOCKED":   true,
	"FAILED":    true,
}

var validIncidentSeverities = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true}
var validIncidentStatuses = map[string]bool{"OPEN": true, "RESOLVED": true}

// normalizeWorkerResult applies the forgiving-normalization rules: legacy
// status aliases, unknown-status coercion, schema_version/cycle_id
// defaults, legacy "tasks" -> "proposed_tasks" migration, and incident
// severity/status normalization. Mutates and returns payload.
func normalizeWorkerResult(payload map[string]any, cycleID string) map[string]any {
	status := strings.ToUpper(strings.TrimSpace(asString(payload["status"])))
	if mapped, ok := legacyStatusMap[status]; ok {
		status = mapped
	}
	if !validWorkerStatuses[status] {
		status = "BLOCKED"
	}
	payload["status"] = status

	if v := strings.TrimSpace(asString(payload["schema_version"])); v == "" {
		payload["schema_version"] = "1.0"
	}
	if v := strings.TrimSpace(asString(payload["cycle_id"])); v == "" {
		payload["cycle_id"] = cycleID
	}

	if _, hasProposed := payload["proposed_tasks"]; !hasProposed {
		if legacyTasks, hasLegacy := payload["tasks"]; hasLegacy {
			payload["proposed_tasks"] = legacyTasks
		}
	}
	delete(payload, "tasks")

	if rawIncidents, ok := payload["incidents"].([]any); ok {
		for _, item := range rawIncidents {
			incident, ok := item.(map[string]any)
			if !ok {
				continue
			}
			severity := strings.ToUpper(strings.TrimSpace(asString(incident["severity"])))
			if !validIncidentSeverities[severity] {
				severity = "MEDIUM"
			}
			incident["severity"] = severity

			status := strings.ToUpper(strings.TrimSpace(asString(incident["status"])))
			if !validIncidentStatuses[status] {
				status = "OPEN"
			}
			incident["status"] = status
		}
	}

	return payload
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func marshalNormalized(payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling normalized worker result: %w", err)
	}
	return data, nil
}
