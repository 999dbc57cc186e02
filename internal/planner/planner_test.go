package planner

import (
	"testing"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

func fixedClock(ts string) Clock {
	t, _ := time.Parse(time.RFC3339, ts)
	return func() time.Time { return t }
}

func strPtr(s string) *string { return &s }

// --- pickTask ---

func TestPickTask_PrefersInProgressUnderStreakLimit(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	tasks := []model.Task{
		{ID: "t1", Status: string(model.TaskInProgress), SelectionStreak: 1},
		{ID: "t2", Status: string(model.TaskTodo)},
	}
	idx, promoted, ev := p.pickTask(tasks)
	if idx != 0 || promoted || ev != nil {
		t.Errorf("expected in-progress task 0 kept without rotation, got idx=%d promoted=%v ev=%v", idx, promoted, ev)
	}
}

func TestPickTask_RotatesAtStreakLimitWithTodoAvailable(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	tasks := []model.Task{
		{ID: "t1", Status: string(model.TaskInProgress), SelectionStreak: MaxConsecutiveSelections},
		{ID: "t2", Status: string(model.TaskTodo)},
	}
	idx, promoted, ev := p.pickTask(tasks)
	if idx != 1 || !promoted {
		t.Errorf("expected rotation to todo task 1, got idx=%d promoted=%v", idx, promoted)
	}
	if ev == nil || ev.Type() != "TASK_PLANNER_ROTATED" {
		t.Fatalf("expected TASK_PLANNER_ROTATED event, got %v", ev)
	}
}

func TestPickTask_KeepsInProgressAtStreakLimitWithNoTodo(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	tasks := []model.Task{
		{ID: "t1", Status: string(model.TaskInProgress), SelectionStreak: MaxConsecutiveSelections + 3},
	}
	idx, promoted, ev := p.pickTask(tasks)
	if idx != 0 || promoted || ev != nil {
		t.Errorf("expected task kept when no todo to rotate to, got idx=%d promoted=%v ev=%v", idx, promoted, ev)
	}
}

func TestPickTask_SkipsDeferredTasks(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	tasks := []model.Task{
		{ID: "t1", Status: string(model.TaskTodo), DeferUntil: strPtr("2026-02-01")},
		{ID: "t2", Status: string(model.TaskTodo)},
	}
	idx, _, _ := p.pickTask(tasks)
	if idx != 1 {
		t.Errorf("expected deferred task skipped, selected idx=%d", idx)
	}
}

func TestPickTask_ReturnsNegativeOneWhenNothingEligible(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	idx, promoted, ev := p.pickTask(nil)
	if idx != -1 || promoted || ev != nil {
		t.Errorf("expected no selection for empty task list, got idx=%d", idx)
	}
}

// --- refreshDeferredTasks ---

func TestRefreshDeferredTasks_ReleasesExpiredDefer(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-02-01T00:00:00Z")}
	tasks := []model.Task{{ID: "t1", Status: string(model.TaskTodo), DeferUntil: strPtr("2026-01-01")}}
	events := p.refreshDeferredTasks(tasks)
	if tasks[0].DeferUntil != nil {
		t.Error("expected defer_until cleared after expiry")
	}
	if len(events) != 1 || events[0].Type() != "TASK_DEFER_RELEASED" {
		t.Fatalf("expected TASK_DEFER_RELEASED event, got %v", events)
	}
}

func TestRefreshDeferredTasks_ClearsMalformedDeferDate(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-02-01T00:00:00Z")}
	tasks := []model.Task{{ID: "t1", Status: string(model.TaskTodo), DeferUntil: strPtr("not-a-date")}}
	events := p.refreshDeferredTasks(tasks)
	if tasks[0].DeferUntil != nil {
		t.Error("expected defer_until cleared for malformed date")
	}
	if len(events) != 1 || events[0].Type() != "TASK_DEFER_INVALID" {
		t.Fatalf("expected TASK_DEFER_INVALID event, got %v", events)
	}
}

func TestRefreshDeferredTasks_LeavesFutureDeferUntouched(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-01T00:00:00Z")}
	tasks := []model.Task{{ID: "t1", Status: string(model.TaskTodo), DeferUntil: strPtr("2026-06-01")}}
	events := p.refreshDeferredTasks(tasks)
	if tasks[0].DeferUntil == nil {
		t.Error("expected defer_until to remain set for future date")
	}
	if len(events) != 0 {
		t.Errorf("expected no events for untouched defer, got %v", events)
	}
}

// --- recordTaskSelection ---

func TestRecordTaskSelection_IncrementsSelectedResetsOthers(t *testing.T) {
	tasks := []model.Task{
		{ID: "t1", SelectionStreak: 2},
		{ID: "t2", SelectionStreak: 1},
	}
	recordTaskSelection(tasks, 0)
	if tasks[0].SelectionStreak != 3 {
		t.Errorf("expected selected task streak incremented to 3, got %d", tasks[0].SelectionStreak)
	}
	if tasks[1].SelectionStreak != 0 {
		t.Errorf("expected unselected task streak reset to 0, got %d", tasks[1].SelectionStreak)
	}
}

// --- Plan ---

func TestPlan_BuildsObjectiveForSelectedTask(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	in := Input{
		State: model.State{
			Tasks: []model.Task{{ID: "t1", Title: "Wire up telemetry", Status: string(model.TaskTodo)}},
		},
		DeviceID:     "dev-1",
		CycleID:      "cycle-001",
		MissionText:  "explore the house",
		ResultPath:   "/tmp/result.json",
		AllowedPaths: []string{"/tmp"},
	}
	result := p.Plan(in)
	if result.WorkOrder.Objective == "" {
		t.Fatal("expected non-empty objective")
	}
	if result.WorkOrder.Context.Tasks[0].ID != "t1" {
		t.Errorf("expected task context to include t1, got %v", result.WorkOrder.Context.Tasks)
	}
}

func TestPlan_FallsBackToMissionUnknownObjective(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	in := Input{
		State:       model.State{},
		DeviceID:    "dev-1",
		CycleID:     "cycle-001",
		MissionText: "",
		ResultPath:  "/tmp/result.json",
	}
	result := p.Plan(in)
	if result.WorkOrder.Objective == "" {
		t.Fatal("expected a fallback objective when no tasks, hardware, or mission")
	}
}

func TestPlan_TruncatesOversizedMissionExcerpt(t *testing.T) {
	p := &Planner{Now: fixedClock("2026-01-10T00:00:00Z")}
	long := make([]byte, missionExcerptCap+500)
	for i := range long {
		long[i] = 'x'
	}
	in := Input{State: model.State{}, DeviceID: "dev-1", CycleID: "c1", MissionText: string(long), ResultPath: "/tmp/r.json"}
	result := p.Plan(in)
	if len(result.WorkOrder.Context.MissionExcerpt) > missionExcerptCap+20 {
		t.Errorf("expected mission excerpt capped near %d chars, got %d", missionExcerptCap, len(result.WorkOrder.Context.MissionExcerpt))
	}
}
