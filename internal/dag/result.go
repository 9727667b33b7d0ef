package dag

import (
	"time"

	"stagerunner/internal/artifact"
)

// RunStatus is the terminal status of a whole run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StageStatus is the aggregated terminal status of one stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StepOutcome records one executed step of a job instance.
type StepOutcome struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
}

// JobOutcome is the append-only record of one job instance. Owned by the
// executor goroutine handling that job's completion; readable once the run
// finishes.
type JobOutcome struct {
	Job        string        `json:"job"`
	Stage      string        `json:"stage"`
	Assignment Assignment    `json:"assignment,omitempty"`
	State      JobState      `json:"state"`
	Cause      FailureCause  `json:"cause,omitempty"`
	SkipReason SkipReason    `json:"skip_reason,omitempty"`
	Err        string        `json:"error,omitempty"`
	Steps      []StepOutcome `json:"steps,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// Result is the summary of one graph execution.
//
// Given an identical RunGraph and deterministic executor responses, the
// status table and manifest are identical across runs; ExecutionOrder
// records observed dispatch order and may vary with concurrency.
type Result struct {
	Status         RunStatus
	FinalState     ExecutionState
	Jobs           map[string]*JobOutcome
	StageStatus    map[string]StageStatus
	StageSkip      map[string]SkipReason // reason per skipped stage
	ExecutionOrder []string
	Manifest       []artifact.Entry
}
