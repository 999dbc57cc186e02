// Package becoming implements the cross-cutting becoming policy that
// guards a device's self-assigned "becoming" phrase while its mission is
// unknown: it must be earned through repeated observation, never handed to
// it by a framework-internal artifact of its own control loop.
package becoming

import "strings"

// DiscoveryThresholdDays is the minimum day index a device must reach
// before a worker-proposed becoming is trusted while mission is unknown.
const DiscoveryThresholdDays = 3

// ClosingBecoming is the fixed phrase a device's becoming is set to on
// termination. It replaces whatever the device had discovered or was
// still discovering — termination is final, not a pause.
const ClosingBecoming = "what it became is finished; there is nothing left to become."

// frameworkMarkers flags becoming text that leaked control-plane
// vocabulary instead of describing a human/environment-oriented goal.
var frameworkMarkers = []string{
	"control-plane",
	"control plane",
	"worker_result",
	"work_order",
	"schema",
	"autonomous loop",
	"reducer",
	"planner",
	"state.json",
	"event log",
}

func matchesFrameworkMarker(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range frameworkMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Event is the minimal shape the policy emits; runtime converts these into
// model.Event values alongside the other tick events.
type Event struct {
	Type   string
	From   string
	To     string
	Reason string
}

// PreCycle runs before the worker is invoked. When mission is unknown, it
// clears an already-set becoming if the device is still within its
// discovery window, or if the existing text reads as framework-internal.
// Returns the (possibly cleared) becoming and the event raised, if any.
func PreCycle(currentBecoming string, day int, missionKnown bool) (string, *Event) {
	if missionKnown || currentBecoming == "" {
		return currentBecoming, nil
	}

	if day < DiscoveryThresholdDays {
		return "", &Event{Type: "BECOMING_CLEARED", From: currentBecoming, To: "", Reason: "mission unknown and discovery window not yet complete"}
	}
	if matchesFrameworkMarker(currentBecoming) {
		return "", &Event{Type: "BECOMING_CLEARED", From: currentBecoming, To: "", Reason: "becoming text matched a framework-internal marker"}
	}
	return currentBecoming, nil
}

// PostWorker runs after the worker returns. When mission is unknown, it
// rejects a freshly proposed becoming that either reads as
// framework-internal or arrives before the discovery threshold, returning
// "" (dropped before the reducer sees it) and a BECOMING_REJECTED event.
// Otherwise it passes the proposal through unchanged.
func PostWorker(proposedBecoming string, day int, missionKnown bool) (string, *Event) {
	if proposedBecoming == "" || missionKnown {
		return proposedBecoming, nil
	}

	if matchesFrameworkMarker(proposedBecoming) {
		return "", &Event{Type: "BECOMING_REJECTED", To: proposedBecoming, Reason: "becoming text matched a framework-internal marker"}
	}
	if day < DiscoveryThresholdDays {
		return "", &Event{Type: "BECOMING_REJECTED", To: proposedBecoming, Reason: "becoming proposed before the discovery threshold was reached"}
	}
	return proposedBecoming, nil
}
