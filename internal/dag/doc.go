// Package dag is the execution core: the validated stage graph, matrix
// expansion into job instances, the per-job state machine, the ready-set
// scheduler, and the parallel executor with fail-fast cancellation and
// skip propagation.
//
// It is split into an immutable definition side (StageGraph, RunGraph,
// JobInstance) and a mutable execution side (ExecutionState, Result) so the
// same graph can be executed repeatedly without rebuilding.
package dag
