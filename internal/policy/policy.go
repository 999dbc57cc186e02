// Package policy holds the small set of environment-tunable safety
// defaults that govern how long the orchestrator lets subprocesses run.
// The accompanying work-order constraint list lives alongside the planner
// that embeds it, not here.
package policy

import "github.com/LucPettett/what-do-i-become/internal/wdibenv"

// WorkerTimeoutSeconds bounds how long the external worker process may run
// per cycle, floored at 60s.
func WorkerTimeoutSeconds() int {
	v := wdibenv.Int("WDIB_CODEX_TIMEOUT_SECONDS", 1200)
	if v < 60 {
		return 60
	}
	return v
}

// CommandTimeoutSeconds bounds how long one hardware detection/verification
// shell command may run, floored at 5s.
func CommandTimeoutSeconds() int {
	v := wdibenv.Int("WDIB_HW_COMMAND_TIMEOUT_SECONDS", 20)
	if v < 5 {
		return 5
	}
	return v
}
