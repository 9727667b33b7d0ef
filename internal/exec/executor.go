// Package exec defines the step executor collaborator contract and a local
// process-backed implementation.
//
// The engine treats step execution as opaque: it hands a step plus job
// context to a StepExecutor and interprets only the exit status, captured
// output, and harvested artifact blobs. Cancellation is cooperative through
// the context.
package exec

import (
	"context"

	"stagerunner/internal/pipeline"
)

// JobContext carries the per-job facts a step executor may need: identity,
// the resolved matrix assignment, declared artifact output paths, and the
// blobs of consumed upstream artifacts keyed by "<producer>/<name>".
type JobContext struct {
	RunID      string
	Stage      string
	JobID      string
	Assignment map[string]string
	Outputs    map[string]string
	Artifacts  map[string][]byte
}

// StepResult is the outcome of one executed step.
//
// A non-zero ExitCode is a step failure; a non-nil error from ExecuteStep is
// an infrastructure failure (the step could not be run at all). Harvested
// holds the declared output blobs the executor collected, keyed by artifact
// name; only the declared outputs are ever harvested.
type StepResult struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Harvested map[string][]byte
}

// StepExecutor runs a single step of a job instance.
//
// Implementations must observe ctx cancellation and terminate promptly; the
// engine requests, and tolerates, best-effort cancellation.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step pipeline.Step, jc JobContext) (*StepResult, error)
}
