// Package runner composes the engine: it validates the pipeline document,
// evaluates the trigger, expands and executes the run graph, and produces
// the run report consumed by downstream publishing tooling.
package runner

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stagerunner/internal/artifact"
	"stagerunner/internal/dag"
	"stagerunner/internal/event"
	"stagerunner/internal/exec"
	"stagerunner/internal/metrics"
	"stagerunner/internal/pipeline"
)

// Controller orchestrates one end-to-end run per triggering event.
type Controller struct {
	Steps       exec.StepExecutor
	Store       artifact.Store
	Concurrency int
	Log         *zap.Logger
	Metrics     *metrics.Metrics
}

// Run validates the static pipeline (dangling needs, cycles, matrix axes,
// conditions) before evaluating any trigger, then fires the trigger
// evaluator and, on a match, executes the expanded graph.
//
// A returned error is either a specification error (pipeline.ErrSpec) or an
// engine invariant failure; job-level failures are reported in the Report.
func (c *Controller) Run(ctx context.Context, doc *pipeline.Document, rc event.RunContext) (*Report, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()
	started := time.Now()

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if err := pipeline.Validate(doc); err != nil {
		return nil, err
	}
	rg, err := dag.NewRunGraph(doc.Stages)
	if err != nil {
		return nil, err
	}

	if !event.ShouldRun(doc.On, rc) {
		log.Info("trigger did not match, run not started",
			zap.String("pipeline", doc.Name), zap.String("event", rc.String()))
		return &Report{
			RunID:     runID,
			Pipeline:  doc.Name,
			Fired:     false,
			EventKind: string(rc.Event),
			Ref:       rc.Ref,
			RefKind:   string(rc.RefKind),
			Actor:     rc.Actor,
			StartedAt: started,
			EndedAt:   time.Now(),
		}, nil
	}

	log.Info("run started",
		zap.String("run_id", runID),
		zap.String("pipeline", doc.Name),
		zap.String("event", rc.String()),
		zap.Int("jobs", len(rg.Jobs())))

	ex, err := dag.NewExecutor(rg, c.Steps, c.Store, rc)
	if err != nil {
		return nil, err
	}
	ex.RunID = runID
	ex.Concurrency = c.Concurrency
	ex.Log = log
	if c.Metrics != nil {
		ex.Observer = c.Metrics
	}

	res, err := ex.Run(ctx)
	if err != nil {
		return nil, err
	}
	if c.Metrics != nil {
		c.Metrics.RunFinished(res.Status)
	}

	report := buildReport(runID, doc, rc, res, started)
	log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(res.Status)),
		zap.Int("artifacts", len(res.Manifest)),
		zap.Duration("duration", report.EndedAt.Sub(started)))
	return report, nil
}

func buildReport(runID string, doc *pipeline.Document, rc event.RunContext, res *dag.Result, started time.Time) *Report {
	stages := make([]StageReport, 0, len(doc.Stages))
	for _, st := range doc.Stages {
		sr := StageReport{
			Name:       st.Name,
			Status:     res.StageStatus[st.Name],
			SkipReason: res.StageSkip[st.Name],
		}
		// res.Jobs is keyed by job ID; stage job IDs come sorted from the
		// graph so rows are deterministic.
		for _, job := range res.Jobs {
			if job.Stage != st.Name {
				continue
			}
			sr.Jobs = append(sr.Jobs, jobRow(job))
		}
		sortJobRows(sr.Jobs)
		stages = append(stages, sr)
	}

	return &Report{
		RunID:     runID,
		Pipeline:  doc.Name,
		Fired:     true,
		EventKind: string(rc.Event),
		Ref:       rc.Ref,
		RefKind:   string(rc.RefKind),
		Actor:     rc.Actor,
		Status:    res.Status,
		Stages:    stages,
		Manifest:  res.Manifest,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
}

func jobRow(out *dag.JobOutcome) JobReport {
	row := JobReport{
		ID:         out.Job,
		Assignment: out.Assignment,
		State:      out.State,
		Cause:      out.Cause,
		SkipReason: out.SkipReason,
		Error:      out.Err,
		DurationMS: out.Duration.Milliseconds(),
	}
	for _, step := range out.Steps {
		row.Steps = append(row.Steps, StepReport{Name: step.Name, ExitCode: step.ExitCode})
	}
	return row
}

func sortJobRows(rows []JobReport) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}
