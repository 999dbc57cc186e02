// Package reducer applies one worker_result to the canonical state document
// and returns the events it raised. Pure function: no I/O, no clock reads
// beyond the injected Clock.
package reducer

import (
	"fmt"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

// Clock abstracts "today" for deterministic tests.
type Clock func() time.Time

// Reducer applies worker results to state.
type Reducer struct {
	Now Clock
}

// New returns a Reducer using the real wall clock.
func New() *Reducer {
	return &Reducer{Now: time.Now}
}

func (r *Reducer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Reducer) today() string {
	return r.now().UTC().Format("2006-01-02")
}

func appendNote(existing, note, today string) string {
	prefix := strings.TrimSpace(existing)
	line := fmt.Sprintf("[%s] %s", today, note)
	if prefix == "" {
		return line
	}
	return prefix + "\n" + line
}

func parseDeferDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// nextID generates a collision-free ID of the form "<prefix>-YYYYMMDD-NNN".
func (r *Reducer) nextID(existing map[string]bool, prefix string) string {
	datePart := r.now().UTC().Format("20060102")
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s-%s-%03d", prefix, datePart, counter)
		if !existing[candidate] {
			return candidate
		}
	}
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Apply mutates state in place according to result and returns the events
// raised, mirroring apply_worker_result.
func (r *Reducer) Apply(state *model.State, result model.WorkerResult) []model.Event {
	var events []model.Event

	r.appendProposedTasks(state, result.ProposedTasks, &events)
	r.upsertTaskUpdates(state, result.TaskUpdates, &events)
	r.appendProposedHardwareRequests(state, result.ProposedHardwareRequests, &events)
	r.appendIncidents(state, result.Incidents, &events)
	r.appendArtifacts(state, result.Artifacts)

	becoming := strings.TrimSpace(result.Becoming)
	if becoming != "" {
		old := state.Purpose.Becoming
		if old != becoming {
			state.Purpose.Becoming = becoming
			events = append(events, model.NewEvent("BECOMING_UPDATED").
				With("from", old).
				With("to", becoming))
		}
	}

	summary := strings.TrimSpace(result.Summary)
	state.LastSummary = summary

	workerStatus := result.Status
	if workerStatus == "" {
		workerStatus = string(model.WorkerCompleted)
	}
	if model.WorkerStatus(workerStatus) == model.WorkerFailed {
		failureSummary := summary
		if failureSummary == "" {
			failureSummary = "Worker returned FAILED status."
		}
		r.appendIncidents(state, []model.ProposedIncident{{
			Title:    "Worker execution failed",
			Summary:  failureSummary,
			Severity: string(model.SeverityHigh),
			Status:   string(model.IncidentOpen),
		}}, &events)
	}

	state.Status = string(r.deriveStatus(*state, model.WorkerStatus(workerStatus)))
	return events
}

func (r *Reducer) deriveStatus(state model.State, workerStatus model.WorkerStatus) model.DeviceStatus {
	if workerStatus == model.WorkerFailed {
		return model.DeviceError
	}
	for _, req := range state.HardwareRequests {
		switch model.HardwareStatus(req.Status) {
		case model.HardwareOpen, model.HardwareDetected:
			return model.DeviceBlockedHardware
		}
	}
	return model.DeviceActive
}

func (r *Reducer) upsertTaskUpdates(state *model.State, updates []model.TaskUpdate, events *[]model.Event) {
	byID := make(map[string]*model.Task, len(state.Tasks))
	for i := range state.Tasks {
		byID[state.Tasks[i].ID] = &state.Tasks[i]
	}

	for _, update := range updates {
		task := byID[update.TaskID]
		if task == nil {
			continue
		}

		previous := task.Status
		if previous == "" {
			previous = string(model.TaskTodo)
		}
		target := previous
		if update.Status != nil && *update.Status != "" {
			target = *update.Status
		}
		metadataChanged := false

		if previous != target {
			task.Status = target
			task.UpdatedOn = r.today()
			if model.TaskStatus(target) == model.TaskDone {
				today := r.today()
				task.CompletedOn = &today
			} else if task.CompletedOn != nil {
				task.CompletedOn = nil
			}
			if model.TaskStatus(target) == model.TaskDone {
				task.DeferUntil = nil
				task.DeferReason = ""
				task.SelectionStreak = 0
			}
			*events = append(*events, model.NewEvent("TASK_STATUS_CHANGED").
				With("task_id", update.TaskID).
				With("from", previous).
				With("to", target).
				With("reason", "worker_result.task_updates"))
		}

		if update.DeferUntil != nil {
			previousDefer := ""
			if task.DeferUntil != nil {
				previousDefer = strings.TrimSpace(*task.DeferUntil)
			}
			rawDefer := strings.TrimSpace(*update.DeferUntil)
			if rawDefer == "" {
				if previousDefer != "" {
					task.DeferUntil = nil
					task.DeferReason = ""
					metadataChanged = true
					*events = append(*events, model.NewEvent("TASK_DEFER_CLEARED").
						With("task_id", update.TaskID).
						With("reason", "worker_result.task_updates cleared defer_until"))
				}
			} else if parsed, ok := parseDeferDate(rawDefer); !ok {
				task.DeferUntil = nil
				task.DeferReason = ""
				metadataChanged = true
				*events = append(*events, model.NewEvent("TASK_DEFER_INVALID").
					With("task_id", update.TaskID).
					With("value", rawDefer).
					With("reason", "worker_result.task_updates.defer_until is not a valid YYYY-MM-DD date"))
			} else if previousDefer != parsed {
				task.DeferUntil = &parsed
				metadataChanged = true
				*events = append(*events, model.NewEvent("TASK_DEFER_SET").
					With("task_id", update.TaskID).
					With("defer_until", parsed))
			}
		}

		if update.DeferReason != nil {
			rawReason := strings.TrimSpace(*update.DeferReason)
			currentDefer := ""
			if task.DeferUntil != nil {
				currentDefer = strings.TrimSpace(*task.DeferUntil)
			}
			normalized := ""
			if currentDefer != "" {
				normalized = rawReason
			}
			if task.DeferReason != normalized {
				task.DeferReason = normalized
				metadataChanged = true
			}
		}

		if metadataChanged && previous == target {
			task.UpdatedOn = r.today()
		}

		note := strings.TrimSpace(update.Note)
		if note != "" {
			task.Notes = appendNote(task.Notes, note, r.today())
		}
	}
}

func (r *Reducer) appendProposedTasks(state *model.State, proposed []model.ProposedTask, events *[]model.Event) {
	openTitles := make(map[string]bool)
	var existingIDs []string
	for _, t := range state.Tasks {
		existingIDs = append(existingIDs, t.ID)
		if model.TaskStatus(t.Status) != model.TaskDone {
			openTitles[strings.ToLower(strings.TrimSpace(t.Title))] = true
		}
	}
	existing := idSet(existingIDs)

	for _, item := range proposed {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		titleKey := strings.ToLower(title)
		if openTitles[titleKey] {
			continue
		}

		taskID := r.nextID(existing, "task")
		existing[taskID] = true
		openTitles[titleKey] = true

		status := item.Status
		if status == "" {
			status = string(model.TaskTodo)
		}
		if !model.TaskStatus(status).IsValid() {
			status = string(model.TaskTodo)
		}

		today := r.today()
		var completedOn *string
		if model.TaskStatus(status) == model.TaskDone {
			completedOn = &today
		}

		state.Tasks = append(state.Tasks, model.Task{
			ID:              taskID,
			Title:           title,
			Description:     item.Description,
			Status:          status,
			BlockedBy:       item.BlockedBy,
			CreatedOn:       today,
			UpdatedOn:       today,
			CompletedOn:     completedOn,
			DeferUntil:      nil,
			DeferReason:     "",
			SelectionStreak: 0,
			Notes:           item.Notes,
		})
		*events = append(*events, model.NewEvent("TASK_CREATED").
			With("task_id", taskID).
			With("title", title))
	}
}

func (r *Reducer) appendProposedHardwareRequests(state *model.State, proposed []model.ProposedHardwareRequest, events *[]model.Event) {
	openNames := make(map[string]bool)
	var existingIDs []string
	for _, req := range state.HardwareRequests {
		existingIDs = append(existingIDs, req.ID)
		switch model.HardwareStatus(req.Status) {
		case model.HardwareOpen, model.HardwareDetected:
			openNames[strings.ToLower(strings.TrimSpace(req.Name))] = true
		}
	}
	existing := idSet(existingIDs)

	for _, item := range proposed {
		name := strings.TrimSpace(item.Name)
		reason := strings.TrimSpace(item.Reason)
		kind := strings.TrimSpace(item.Detection.Kind)
		value := strings.TrimSpace(item.Detection.Value)
		if name == "" || reason == "" || kind == "" || value == "" {
			continue
		}

		key := strings.ToLower(name)
		if openNames[key] {
			continue
		}

		requestID := r.nextID(existing, "hardware")
		existing[requestID] = true
		openNames[key] = true

		state.HardwareRequests = append(state.HardwareRequests, model.HardwareRequest{
			ID:            requestID,
			Name:          name,
			Reason:        reason,
			Status:        string(model.HardwareOpen),
			Detection:     model.Detection{Kind: kind, Value: value},
			VerifyCommand: item.VerifyCommand,
			RequestedOn:   r.today(),
			Notes:         item.Notes,
		})
		*events = append(*events, model.NewEvent("HARDWARE_REQUEST_CREATED").
			With("request_id", requestID).
			With("name", name))
	}
}

func (r *Reducer) appendIncidents(state *model.State, proposed []model.ProposedIncident, events *[]model.Event) {
	var existingIDs []string
	for _, inc := range state.Incidents {
		existingIDs = append(existingIDs, inc.ID)
	}
	existing := idSet(existingIDs)

	for _, item := range proposed {
		title := strings.TrimSpace(item.Title)
		summary := strings.TrimSpace(item.Summary)
		if title == "" || summary == "" {
			continue
		}

		severity := strings.ToUpper(strings.TrimSpace(item.Severity))
		if severity == "" {
			severity = string(model.SeverityMedium)
		}
		if !model.IncidentSeverity(severity).IsValid() {
			severity = string(model.SeverityMedium)
		}

		status := strings.ToUpper(strings.TrimSpace(item.Status))
		if status == "" {
			status = string(model.IncidentOpen)
		}
		if !model.IncidentStatus(status).IsValid() {
			status = string(model.IncidentOpen)
		}

		incidentID := r.nextID(existing, "incident")
		existing[incidentID] = true

		today := r.today()
		state.Incidents = append(state.Incidents, model.Incident{
			ID:        incidentID,
			Title:     title,
			Status:    status,
			Severity:  severity,
			Summary:   summary,
			CreatedOn: today,
			UpdatedOn: today,
		})
		*events = append(*events, model.NewEvent("INCIDENT_CREATED").
			With("incident_id", incidentID).
			With("title", title).
			With("severity", severity))
	}
}

func (r *Reducer) appendArtifacts(state *model.State, artifacts []model.ProposedArtifact) {
	for _, item := range artifacts {
		path := strings.TrimSpace(item.Path)
		description := strings.TrimSpace(item.Description)
		if path == "" || description == "" {
			continue
		}
		state.Artifacts = append(state.Artifacts, model.Artifact{
			Path:        path,
			Description: description,
			CreatedOn:   r.today(),
		})
	}
}
