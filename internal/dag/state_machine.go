package dag

import "fmt"

// Transition performs an atomic validated transition for a single job.
//
// The caller supplies the expected prior state so races become observable
// errors instead of silent overwrites. The map is mutated if and only if
// the transition is valid.
func Transition(state ExecutionState, jobID string, from, to JobState) error {
	cur, ok := state[jobID]
	if !ok {
		return fmt.Errorf("unknown job in state: %q", jobID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", jobID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", jobID, from, to)
	}
	state[jobID] = to
	return nil
}

// isAllowedTransition encodes the job lifecycle: a pending job either starts
// or is resolved without running (skipped by a gate or dependency, cancelled
// by fail-fast); a running job ends succeeded, failed, or cancelled.
func isAllowedTransition(from, to JobState) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateSkipped || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}
