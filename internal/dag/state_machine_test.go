package dag

import "testing"

func TestTransition_ValidLifecycle(t *testing.T) {
	state := ExecutionState{"a": StatePending}

	if err := Transition(state, "a", StatePending, StateRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := Transition(state, "a", StateRunning, StateSucceeded); err != nil {
		t.Fatalf("running -> succeeded: %v", err)
	}
	if state["a"] != StateSucceeded {
		t.Fatalf("final state %s, want %s", state["a"], StateSucceeded)
	}
}

func TestTransition_RejectsUnknownJob(t *testing.T) {
	state := ExecutionState{}
	if err := Transition(state, "ghost", StatePending, StateRunning); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestTransition_RejectsStaleExpectation(t *testing.T) {
	state := ExecutionState{"a": StateRunning}
	if err := Transition(state, "a", StatePending, StateRunning); err == nil {
		t.Fatal("expected error when prior state does not match")
	}
	if state["a"] != StateRunning {
		t.Fatalf("state mutated on rejected transition: %s", state["a"])
	}
}

func TestTransition_RejectsTerminalRestart(t *testing.T) {
	for _, terminal := range []JobState{StateSucceeded, StateFailed, StateCancelled, StateSkipped} {
		state := ExecutionState{"a": terminal}
		if err := Transition(state, "a", terminal, StateRunning); err == nil {
			t.Fatalf("expected error restarting from %s", terminal)
		}
	}
}

func TestTransition_PendingCanBeResolvedWithoutRunning(t *testing.T) {
	for _, to := range []JobState{StateSkipped, StateCancelled} {
		state := ExecutionState{"a": StatePending}
		if err := Transition(state, "a", StatePending, to); err != nil {
			t.Fatalf("pending -> %s: %v", to, err)
		}
	}
	state := ExecutionState{"a": StatePending}
	if err := Transition(state, "a", StatePending, StateSucceeded); err == nil {
		t.Fatal("pending must not jump straight to succeeded")
	}
}

func TestIsTerminal(t *testing.T) {
	for st, want := range map[JobState]bool{
		StatePending:   false,
		StateRunning:   false,
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true,
		StateSkipped:   true,
	} {
		if got := IsTerminal(st); got != want {
			t.Fatalf("IsTerminal(%s) = %v, want %v", st, got, want)
		}
	}
}
