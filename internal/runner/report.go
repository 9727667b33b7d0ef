package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stagerunner/internal/artifact"
	"stagerunner/internal/dag"
)

// Report is the sole externally observable contract of a run: per-stage and
// per-job status rows, the overall status, and the artifact manifest handed
// to downstream publishing tooling.
type Report struct {
	RunID     string           `json:"run_id"`
	Pipeline  string           `json:"pipeline"`
	Fired     bool             `json:"fired"`
	EventKind string           `json:"event"`
	Ref       string           `json:"ref"`
	RefKind   string           `json:"ref_kind"`
	Actor     string           `json:"actor,omitempty"`
	Status    dag.RunStatus    `json:"status,omitempty"`
	Stages    []StageReport    `json:"stages,omitempty"`
	Manifest  []artifact.Entry `json:"artifacts,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// StageReport aggregates one stage's job rows.
type StageReport struct {
	Name       string          `json:"name"`
	Status     dag.StageStatus `json:"status"`
	SkipReason dag.SkipReason  `json:"skip_reason,omitempty"`
	Jobs       []JobReport     `json:"jobs"`
}

// JobReport is one row of the status table.
type JobReport struct {
	ID         string            `json:"id"`
	Assignment map[string]string `json:"assignment,omitempty"`
	State      dag.JobState      `json:"state"`
	Cause      dag.FailureCause  `json:"cause,omitempty"`
	SkipReason dag.SkipReason    `json:"skip_reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Steps      []StepReport      `json:"steps,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// StepReport records one executed step's exit status.
type StepReport struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"`
}

// Write persists the report as JSON atomically: a temp file in the target
// directory, fsynced, then renamed over the destination so readers never
// observe a partial report.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}
