// Package repository owns the per-device filesystem layout: the canonical
// state document, the append-only NDJSON event log, work order/worker
// result persistence, session records, and public artifacts. Two device
// files are handled outside this package: internal/inbox writes, reads and
// removes runtime/human_message.txt, and internal/worker writes and reads
// the worker result file at the work order's result_path.
package repository

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/contracts"
	"github.com/LucPettett/what-do-i-become/internal/model"
	"github.com/LucPettett/what-do-i-become/internal/wdibpath"
)

// Repository is the per-device storage handle. One Repository per device
// per process invocation; the event log file is opened lazily on first
// append and closed explicitly via Close.
type Repository struct {
	paths wdibpath.DevicePaths

	mu       sync.Mutex
	eventsF  *os.File
}

// New ensures the device's directory layout exists and returns a Repository
// bound to it.
func New(paths wdibpath.DevicePaths) (*Repository, error) {
	dirs := []string{
		paths.DeviceDir,
		paths.Sessions,
		paths.Runtime,
		paths.WorkOrders,
		paths.WorkerResults,
		paths.PublicDir,
		paths.PublicDaily,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensuring layout dir %s: %w", dir, err)
		}
	}
	return &Repository{paths: paths}, nil
}

// Paths exposes the resolved device paths to callers that need them (e.g.
// the runtime orchestrator composing a work order's result_path).
func (r *Repository) Paths() wdibpath.DevicePaths {
	return r.paths
}

// DefaultState builds a fresh ACTIVE state document for a newly seen device.
func DefaultState(deviceID, awokeOn string) model.State {
	return model.State{
		SchemaVersion: model.SchemaVersion,
		DeviceID:      deviceID,
		AwokeOn:       awokeOn,
		Day:           0,
		Purpose: model.Purpose{
			Becoming:    "",
			MissionPath: wdibpath.MissionFileName,
		},
		Status:           string(model.DeviceActive),
		Tasks:            []model.Task{},
		HardwareRequests: []model.HardwareRequest{},
		Incidents:        []model.Incident{},
		Artifacts:        []model.Artifact{},
		LastSummary:      "",
	}
}

// LoadState reads state.json, validating it against the state schema. If the
// file does not exist, it persists a DefaultState for deviceID, records a
// STATE_INITIALIZED event, and returns it.
func (r *Repository) LoadState(deviceID, awokeOn string) (model.State, error) {
	raw, err := os.ReadFile(r.paths.State)
	if err != nil {
		if os.IsNotExist(err) {
			state := DefaultState(deviceID, awokeOn)
			if err := r.SaveState(state); err != nil {
				return model.State{}, fmt.Errorf("persisting initial state: %w", err)
			}
			if err := r.AppendEvent(model.NewEvent("STATE_INITIALIZED").
				With("device_id", deviceID).
				With("awoke_on", awokeOn)); err != nil {
				return model.State{}, fmt.Errorf("recording state initialization: %w", err)
			}
			return state, nil
		}
		return model.State{}, fmt.Errorf("reading state: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return model.State{}, fmt.Errorf("decoding state: %w", err)
	}
	migrated, changed := migrateLegacyState(generic)
	if err := contracts.Validate(migrated, contracts.StateSchema, "state"); err != nil {
		return model.State{}, err
	}

	var state model.State
	reencoded, err := json.Marshal(migrated)
	if err != nil {
		return model.State{}, fmt.Errorf("re-encoding migrated state: %w", err)
	}
	if err := json.Unmarshal(reencoded, &state); err != nil {
		return model.State{}, fmt.Errorf("decoding state into model: %w", err)
	}

	if changed {
		if err := r.AppendEvent(model.NewEvent("STATE_MIGRATED")); err != nil {
			return model.State{}, fmt.Errorf("recording state migration: %w", err)
		}
	}
	return state, nil
}

// migrateLegacyState rewrites the deprecated top-level "spirit_path" key
// into purpose.mission_path, returning whether a rewrite happened. Kept for
// devices whose state.json predates the mission/purpose rename.
func migrateLegacyState(generic any) (any, bool) {
	obj, ok := generic.(map[string]any)
	if !ok {
		return generic, false
	}
	legacy, hasLegacy := obj["spirit_path"]
	if !hasLegacy {
		return generic, false
	}
	purpose, _ := obj["purpose"].(map[string]any)
	if purpose == nil {
		purpose = map[string]any{}
	}
	if _, hasMission := purpose["mission_path"]; !hasMission {
		purpose["mission_path"] = legacy
	}
	obj["purpose"] = purpose
	delete(obj, "spirit_path")
	return obj, true
}

// SaveState validates and atomically writes state.json with 2-space
// indentation and a trailing newline.
func (r *Repository) SaveState(state model.State) error {
	if err := contracts.ValidateStruct(state, contracts.StateSchema, "state"); err != nil {
		return err
	}
	return atomicWriteJSON(r.paths.State, state)
}

// AppendEvent writes one NDJSON line to events.ndjson, stamping "ts" if not
// already set. Mutex-protected and lazily opens the file in append mode.
func (r *Repository) AppendEvent(event model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := event["ts"]; !ok {
		event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if r.eventsF == nil {
		f, err := os.OpenFile(r.paths.Events, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		r.eventsF = f
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := r.eventsF.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Close flushes and releases any open file handles.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventsF != nil {
		err := r.eventsF.Close()
		r.eventsF = nil
		return err
	}
	return nil
}

// ReadEvents reads every NDJSON event recorded so far, in order. Used by
// publication and inspection tooling; not on the hot tick path.
func (r *Repository) ReadEvents() ([]model.Event, error) {
	f, err := os.Open(r.paths.Events)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []model.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decoding event line: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return events, nil
}

// SaveWorkOrder validates and persists one cycle's work order under
// runtime/work_orders/<cycle_id>.json.
func (r *Repository) SaveWorkOrder(wo model.WorkOrder) error {
	if err := contracts.ValidateStruct(wo, contracts.WorkOrderSchema, "work order"); err != nil {
		return err
	}
	return atomicWriteJSON(r.paths.WorkOrderFile(wo.CycleID), wo)
}

// SaveWorkerResult validates and persists one cycle's worker result under
// runtime/worker_results/<cycle_id>.json.
func (r *Repository) SaveWorkerResult(wr model.WorkerResult) error {
	if err := contracts.ValidateStruct(wr, contracts.WorkerResultSchema, "worker result"); err != nil {
		return err
	}
	return atomicWriteJSON(r.paths.WorkerResultFile(wr.CycleID), wr)
}

// SessionRecord is the immutable per-day record written once a day's cycle
// set concludes, capturing the state snapshot and the worker result that
// produced it.
type SessionRecord struct {
	Day          int               `json:"day"`
	Date         string            `json:"date"`
	CycleID      string            `json:"cycle_id"`
	State        model.State       `json:"state"`
	WorkOrder    model.WorkOrder   `json:"work_order"`
	WorkerResult model.WorkerResult `json:"worker_result"`
}

// SaveSessionRecord persists one day's immutable session record.
func (r *Repository) SaveSessionRecord(rec SessionRecord) error {
	return atomicWriteJSON(r.paths.SessionFile(rec.Day, rec.Date), rec)
}

// SavePublicStatus persists the sanitized, operator-facing status.json.
func (r *Repository) SavePublicStatus(status any) error {
	return atomicWriteJSON(r.paths.PublicStatus, status)
}

// SavePublicDaily persists one day's sanitized markdown summary.
func (r *Repository) SavePublicDaily(day int, date, markdown string) error {
	path := r.paths.PublicDailyFile(day, date)
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return fmt.Errorf("ensuring public daily dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("writing public daily summary: %w", err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// atomicWriteJSON marshals v with 2-space indentation, sorted object keys,
// and a trailing newline, writing to a temp file and renaming into place so
// a crash never leaves a half-written document behind. v is round-tripped
// through a generic any first: Go's encoding/json sorts map[string]any keys
// but preserves struct field declaration order, so marshaling a struct
// directly would not satisfy the sorted-keys requirement every WDIB
// document is held to.
func atomicWriteJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("decoding %s for sorted re-encoding: %w", path, err)
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return fmt.Errorf("ensuring dir for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp file into %s: %w", path, err)
	}
	return nil
}
