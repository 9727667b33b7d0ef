package dag

// JobState is the runtime execution state of one job instance.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
	StateSkipped   JobState = "skipped"
)

// IsTerminal reports whether the state is final.
func IsTerminal(s JobState) bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// FailureCause tags why a job failed, for diagnostics distinct from the
// generic step failure.
type FailureCause string

const (
	CauseNone            FailureCause = ""
	CauseStepFailure     FailureCause = "step_failure"
	CauseMissingArtifact FailureCause = "missing_artifact"
	CauseTimeout         FailureCause = "timeout"
)

// SkipReason distinguishes the gate-closed family from upstream failure.
//
// SkipDependencySkipped belongs to the gate-closed family: the stage itself
// would have run, but a needed stage was held back by a gate rather than
// failing. Dependents of a failed or cancelled stage report
// SkipDependencyFailed.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipGateClosed        SkipReason = "gate_closed"
	SkipDependencyFailed  SkipReason = "dependency_failed"
	SkipDependencySkipped SkipReason = "dependency_skipped"
)

// ExecutionState maps job ID to its current state. It is a plain map so the
// scheduler can stay a pure function over it.
type ExecutionState map[string]JobState

// Clone returns a copy of the state map.
func (s ExecutionState) Clone() ExecutionState {
	cp := make(ExecutionState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}
