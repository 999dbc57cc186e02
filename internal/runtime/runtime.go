// Package runtime drives the per-device tick: load state, apply the
// becoming policy, drain the human inbox, probe hardware, plan, invoke the
// worker, reduce, publish, commit, and notify.
package runtime

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/becoming"
	"github.com/LucPettett/what-do-i-become/internal/gitrepo"
	"github.com/LucPettett/what-do-i-become/internal/hardware"
	"github.com/LucPettett/what-do-i-become/internal/inbox"
	"github.com/LucPettett/what-do-i-become/internal/mission"
	"github.com/LucPettett/what-do-i-become/internal/model"
	"github.com/LucPettett/what-do-i-become/internal/notify"
	"github.com/LucPettett/what-do-i-become/internal/planner"
	"github.com/LucPettett/what-do-i-become/internal/policy"
	"github.com/LucPettett/what-do-i-become/internal/publication"
	"github.com/LucPettett/what-do-i-become/internal/reducer"
	"github.com/LucPettett/what-do-i-become/internal/repository"
	"github.com/LucPettett/what-do-i-become/internal/wdibenv"
	"github.com/LucPettett/what-do-i-become/internal/wdibpath"
	"github.com/LucPettett/what-do-i-become/internal/worker"
)

// Result is the CLI-facing outcome of one tick, embedded in the ok:true
// result envelope.
type Result struct {
	DeviceID    string `json:"device_id"`
	CycleID     string `json:"cycle_id,omitempty"`
	Day         int    `json:"day"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	SessionPath string `json:"session_path,omitempty"`
	Git         *gitrepo.Result `json:"git,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// Orchestrator wires every component together for one project root.
type Orchestrator struct {
	Paths wdibpath.Paths
	Now   func() time.Time
}

// New builds an Orchestrator rooted at projectRoot using the real wall clock.
func New(projectRoot string) *Orchestrator {
	return &Orchestrator{Paths: wdibpath.New(projectRoot), Now: time.Now}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func cycleID(day int, at time.Time) string {
	return fmt.Sprintf("cycle-%03d-%s", day, at.Format("20060102T150405"))
}

func nextIncidentID(state model.State, at time.Time) string {
	prefix := "incident-" + at.Format("20060102")
	existing := make(map[string]bool, len(state.Incidents))
	for _, inc := range state.Incidents {
		existing[inc.ID] = true
	}
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s-%03d", prefix, counter)
		if !existing[candidate] {
			return candidate
		}
	}
}

func recordRuntimeFailure(state *model.State, message string, at time.Time) {
	state.Status = string(model.DeviceError)
	today := at.UTC().Format("2006-01-02")
	state.Incidents = append(state.Incidents, model.Incident{
		ID:        nextIncidentID(*state, at),
		Title:     "WDIB runtime failure",
		Status:    string(model.IncidentOpen),
		Severity:  string(model.SeverityHigh),
		Summary:   message,
		CreatedOn: today,
		UpdatedOn: today,
	})
	state.LastSummary = message
}

func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RunTick executes one orchestration cycle for the resolved device and
// returns the CLI-facing result. On a cycle failure the error returned
// wraps the recorded failure message; the caller should exit non-zero.
func (o *Orchestrator) RunTick(ctx context.Context) (Result, error) {
	if err := wdibenv.LoadDotenv(o.Paths.EnvFile); err != nil {
		return Result{}, fmt.Errorf("loading .env: %w", err)
	}

	deviceID, err := wdibenv.ResolveDeviceID(o.Paths)
	if err != nil {
		return Result{}, fmt.Errorf("resolving device id: %w", err)
	}

	missionText, err := mission.Load(o.Paths.MissionFile)
	if err != nil {
		return Result{}, fmt.Errorf("loading mission: %w", err)
	}
	missionKnown := strings.TrimSpace(missionText) != ""

	devicePaths := o.Paths.Device(deviceID)
	repo, err := repository.New(devicePaths)
	if err != nil {
		return Result{}, fmt.Errorf("preparing device layout: %w", err)
	}
	defer repo.Close()

	at := o.now()
	awokeOn := at.UTC().Format("2006-01-02")
	state, err := repo.LoadState(deviceID, awokeOn)
	if err != nil {
		return Result{}, fmt.Errorf("loading state: %w", err)
	}

	if newBecoming, event := becoming.PreCycle(state.Purpose.Becoming, state.Day, missionKnown); event != nil {
		state.Purpose.Becoming = newBecoming
		if err := repo.AppendEvent(becomingEventToModel(*event)); err != nil {
			return Result{}, fmt.Errorf("recording becoming event: %w", err)
		}
	}

	box := inbox.New(devicePaths.HumanMessage)
	messageText, err := box.LoadAndClear()
	if err != nil {
		return Result{}, fmt.Errorf("reading human inbox: %w", err)
	}
	if messageText != "" {
		if err := repo.AppendEvent(model.NewEvent("HUMAN_MESSAGE_RECEIVED").
			With("body", capText(messageText, 500))); err != nil {
			return Result{}, fmt.Errorf("recording human message event: %w", err)
		}
	}

	if strings.ToUpper(state.Status) == string(model.DeviceTerminated) && messageText == "" {
		return Result{DeviceID: deviceID, Day: state.Day, Status: state.Status, Skipped: true}, nil
	}

	day := state.Day + 1
	cid := cycleID(day, at)
	if err := repo.AppendEvent(model.NewEvent("CYCLE_STARTED").
		With("cycle_id", cid).
		With("day", day).
		With("status", state.Status)); err != nil {
		return Result{}, fmt.Errorf("recording cycle start: %w", err)
	}

	if inbox.IsTerminateCommand(messageText) {
		return o.terminate(ctx, repo, &state, deviceID, cid, day, at)
	}

	result, err := o.runCycle(ctx, repo, &state, deviceID, cid, day, missionText, missionKnown, at)
	if err != nil {
		recordRuntimeFailure(&state, err.Error(), at)
		if saveErr := repo.SaveState(state); saveErr != nil {
			log.Printf("[RUNTIME] failed to persist error state: %v", saveErr)
		}
		if appendErr := repo.AppendEvent(model.NewEvent("CYCLE_FAILED").
			With("cycle_id", cid).
			With("day", day).
			With("error", err.Error())); appendErr != nil {
			log.Printf("[RUNTIME] failed to record CYCLE_FAILED: %v", appendErr)
		}
		o.notifyFailure(repo, deviceID, cid, day, at)
		return Result{}, err
	}
	return result, nil
}

func becomingEventToModel(e becoming.Event) model.Event {
	ev := model.NewEvent(e.Type)
	if e.From != "" {
		ev = ev.With("from", e.From)
	}
	ev = ev.With("to", e.To).With("reason", e.Reason)
	return ev
}

// notificationEvent folds one channel's outcome into a NOTIFICATION_SENT or
// NOTIFICATION_FAILED event, keyed on r.Sent.
func notificationEvent(r notify.Result, cid string) model.Event {
	eventType := "NOTIFICATION_FAILED"
	if r.Sent {
		eventType = "NOTIFICATION_SENT"
	}
	ev := model.NewEvent(eventType).With("channel", r.Channel)
	if cid != "" {
		ev = ev.With("cycle_id", cid)
	}
	if r.Reason != "" {
		ev = ev.With("reason", r.Reason)
	}
	return ev
}

func (o *Orchestrator) notifyFailure(repo *repository.Repository, deviceID, cid string, day int, at time.Time) {
	router := o.notifyRouter()
	results := router.SendFailureNotifications(deviceID, cid, day, at)
	for _, r := range results {
		log.Printf("[NOTIFY] failure channel=%s sent=%t reason=%s", r.Channel, r.Sent, r.Reason)
		if err := repo.AppendEvent(notificationEvent(r, cid)); err != nil {
			log.Printf("[RUNTIME] failed to record notification event: %v", err)
		}
	}
}

func (o *Orchestrator) notifyRouter() *notify.Router {
	return notify.NewRouter(notify.NewWebhookProvider(notify.NewLLMComposer()))
}

func (o *Orchestrator) terminate(ctx context.Context, repo *repository.Repository, state *model.State, deviceID, cid string, day int, at time.Time) (Result, error) {
	if err := repo.AppendEvent(model.NewEvent("HUMAN_COMMAND_TERMINATE").
		With("cycle_id", cid).
		With("day", day)); err != nil {
		return Result{}, fmt.Errorf("recording termination command: %w", err)
	}

	state.Status = string(model.DeviceTerminated)
	state.Day = day
	state.Purpose.Becoming = becoming.ClosingBecoming
	if err := repo.SaveState(*state); err != nil {
		return Result{}, fmt.Errorf("saving terminated state: %w", err)
	}

	status := publication.BuildStatus(publication.BuildStatusInput{
		DeviceID: deviceID, CycleID: cid, Day: day, State: *state,
		WorkerStatus: "TERMINATED", Now: at,
	})
	if err := repo.SavePublicStatus(status); err != nil {
		return Result{}, fmt.Errorf("saving public status: %w", err)
	}
	daily := publication.BuildDaily(status, "Device terminated by human instruction.", "", at)
	if err := repo.SavePublicDaily(day, status.Date, daily); err != nil {
		return Result{}, fmt.Errorf("saving public daily summary: %w", err)
	}

	gitAdapter := gitrepo.New(o.Paths.ProjectRoot)
	gitInfo := gitAdapter.CommitDeviceChanges(ctx, deviceID, day, state.Status)

	if err := repo.AppendEvent(model.NewEvent("CYCLE_COMPLETED").
		With("cycle_id", cid).
		With("day", day).
		With("status", state.Status).
		With("git", gitInfo)); err != nil {
		return Result{}, fmt.Errorf("recording cycle completion: %w", err)
	}

	router := o.notifyRouter()
	results := router.SendCycleNotifications(status, notify.GitInfo{Pushed: gitInfo.Pushed}, status.Date)
	for _, r := range results {
		log.Printf("[NOTIFY] cycle channel=%s sent=%t reason=%s", r.Channel, r.Sent, r.Reason)
		if err := repo.AppendEvent(notificationEvent(r, cid)); err != nil {
			return Result{}, fmt.Errorf("recording notification event: %w", err)
		}
	}

	return Result{DeviceID: deviceID, CycleID: cid, Day: day, Status: state.Status, Git: &gitInfo}, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, repo *repository.Repository, state *model.State, deviceID, cid string, day int, missionText string, missionKnown bool, at time.Time) (Result, error) {
	reconciler := hardware.New(time.Duration(policy.CommandTimeoutSeconds()) * time.Second)
	hwEvents := reconciler.Probe(ctx, state.HardwareRequests)
	for _, ev := range hwEvents {
		ev = ev.With("cycle_id", cid)
		if err := repo.AppendEvent(ev); err != nil {
			return Result{}, fmt.Errorf("recording hardware event: %w", err)
		}
	}

	devicePaths := repo.Paths()
	resultPath := devicePaths.WorkerResultFile(cid)
	allowedPaths := []string{o.Paths.ProjectRoot, devicePaths.DeviceDir}

	p := planner.New()
	planResult := p.Plan(planner.Input{
		State:        *state,
		DeviceID:     deviceID,
		CycleID:      cid,
		MissionText:  missionText,
		ResultPath:   resultPath,
		AllowedPaths: allowedPaths,
	})
	for _, ev := range planResult.Events {
		ev = ev.With("cycle_id", cid)
		if err := repo.AppendEvent(ev); err != nil {
			return Result{}, fmt.Errorf("recording planning event: %w", err)
		}
	}
	if err := repo.SaveWorkOrder(planResult.WorkOrder); err != nil {
		return Result{}, fmt.Errorf("saving work order: %w", err)
	}
	if err := repo.SaveState(*state); err != nil {
		return Result{}, fmt.Errorf("saving state before worker invocation: %w", err)
	}

	workerResult, metadata, err := worker.Execute(ctx, planResult.WorkOrder, o.Paths.ProjectRoot, policy.WorkerTimeoutSeconds())
	if err != nil {
		return Result{}, err
	}
	if err := repo.SaveWorkerResult(workerResult); err != nil {
		return Result{}, fmt.Errorf("saving worker result: %w", err)
	}
	if err := repo.AppendEvent(model.NewEvent("WORKER_EXECUTED").
		With("cycle_id", cid).
		With("returncode", metadata.ReturnCode).
		With("mode", metadata.Mode)); err != nil {
		return Result{}, fmt.Errorf("recording worker execution: %w", err)
	}

	if rejectedBecoming, event := becoming.PostWorker(workerResult.Becoming, state.Day+1, missionKnown); event != nil {
		workerResult.Becoming = rejectedBecoming
		if err := repo.AppendEvent(becomingEventToModel(*event)); err != nil {
			return Result{}, fmt.Errorf("recording becoming rejection: %w", err)
		}
	}

	red := reducer.New()
	reducerEvents := red.Apply(state, workerResult)
	for _, ev := range reducerEvents {
		ev = ev.With("cycle_id", cid)
		if err := repo.AppendEvent(ev); err != nil {
			return Result{}, fmt.Errorf("recording reducer event: %w", err)
		}
	}

	state.Day = day
	if err := repo.SaveState(*state); err != nil {
		return Result{}, fmt.Errorf("saving post-cycle state: %w", err)
	}

	sessionDate := at.UTC().Format("2006-01-02")
	session := repository.SessionRecord{
		Day: day, Date: sessionDate, CycleID: cid,
		State: *state, WorkOrder: planResult.WorkOrder, WorkerResult: workerResult,
	}
	if err := repo.SaveSessionRecord(session); err != nil {
		return Result{}, fmt.Errorf("saving session record: %w", err)
	}

	status := publication.BuildStatus(publication.BuildStatusInput{
		DeviceID: deviceID, CycleID: cid, Day: day, State: *state,
		WorkerStatus: workerResult.Status, MissionText: missionText,
		SummaryHint: workerResult.Summary, ObjectiveHint: planResult.WorkOrder.Objective,
		Now: at,
	})
	if err := repo.SavePublicStatus(status); err != nil {
		return Result{}, fmt.Errorf("saving public status: %w", err)
	}
	daily := publication.BuildDaily(status, planResult.WorkOrder.Objective, workerResult.Summary, at)
	if err := repo.SavePublicDaily(day, sessionDate, daily); err != nil {
		return Result{}, fmt.Errorf("saving public daily summary: %w", err)
	}

	gitAdapter := gitrepo.New(o.Paths.ProjectRoot)
	gitInfo := gitAdapter.CommitDeviceChanges(ctx, deviceID, day, state.Status)

	if err := repo.AppendEvent(model.NewEvent("CYCLE_COMPLETED").
		With("cycle_id", cid).
		With("day", day).
		With("status", state.Status).
		With("git", gitInfo)); err != nil {
		return Result{}, fmt.Errorf("recording cycle completion: %w", err)
	}

	router := o.notifyRouter()
	notifyResults := router.SendCycleNotifications(status, notify.GitInfo{Pushed: gitInfo.Pushed}, sessionDate)
	for _, r := range notifyResults {
		log.Printf("[NOTIFY] cycle channel=%s sent=%t reason=%s", r.Channel, r.Sent, r.Reason)
		if err := repo.AppendEvent(notificationEvent(r, cid)); err != nil {
			return Result{}, fmt.Errorf("recording notification event: %w", err)
		}
	}

	return Result{
		DeviceID: deviceID, CycleID: cid, Day: day, Status: state.Status,
		Summary: state.LastSummary, Git: &gitInfo,
	}, nil
}
