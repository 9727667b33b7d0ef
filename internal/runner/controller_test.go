package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagerunner/internal/artifact"
	"stagerunner/internal/dag"
	"stagerunner/internal/event"
	"stagerunner/internal/exec"
	"stagerunner/internal/pipeline"
)

const releasePipeline = `
version: 1
name: release
on:
  push:
    tags: ["v*"]
stages:
  - name: test
    steps:
      - name: unit
        run: go test ./...
  - name: build
    needs: [test]
    matrix:
      os: [linux, darwin]
    steps:
      - name: compile
        run: make ${{ matrix.os }}
    artifacts:
      produce: [binary]
      outputs:
        binary: dist/app-${{ matrix.os }}
  - name: release
    needs: [build]
    if: event == "push" && ref_kind == "tag"
    steps:
      - name: publish
        run: ./publish.sh
    artifacts:
      consume:
        - stage: build
          name: binary
`

// okSteps succeeds every step and fabricates one blob per declared output.
type okSteps struct {
	mu    sync.Mutex
	calls int
}

func (f *okSteps) ExecuteStep(_ context.Context, _ pipeline.Step, jc exec.JobContext) (*exec.StepResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	harvested := make(map[string][]byte, len(jc.Outputs))
	for name := range jc.Outputs {
		harvested[name] = []byte(jc.JobID)
	}
	return &exec.StepResult{ExitCode: 0, Harvested: harvested}, nil
}

func loadDoc(t *testing.T) *pipeline.Document {
	t.Helper()
	doc, err := pipeline.Parse([]byte(releasePipeline))
	require.NoError(t, err)
	return doc
}

func newController(steps exec.StepExecutor) *Controller {
	return &Controller{Steps: steps, Store: artifact.NewMemStore(), Concurrency: 2}
}

func TestController_TagPushProducesFullReport(t *testing.T) {
	steps := &okSteps{}
	c := newController(steps)

	report, err := c.Run(context.Background(), loadDoc(t),
		event.RunContext{Event: event.Push, Ref: "v1.2.0", RefKind: event.Tag, Actor: "bot"})
	require.NoError(t, err)

	assert.True(t, report.Fired)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "release", report.Pipeline)
	assert.Equal(t, dag.RunSucceeded, report.Status)
	assert.Equal(t, 4, steps.calls, "test + two build instances + release")

	require.Len(t, report.Stages, 3)
	assert.Equal(t, "test", report.Stages[0].Name)
	assert.Equal(t, "build", report.Stages[1].Name)
	require.Len(t, report.Stages[1].Jobs, 2)
	assert.Equal(t, "build[os=darwin]", report.Stages[1].Jobs[0].ID)
	assert.Equal(t, "build[os=linux]", report.Stages[1].Jobs[1].ID)

	require.Len(t, report.Manifest, 2)
	for _, e := range report.Manifest {
		assert.Equal(t, "build", e.Producer.Stage)
		assert.Equal(t, "binary", e.Name)
	}
}

func TestController_TriggerMissDoesNotRun(t *testing.T) {
	steps := &okSteps{}
	c := newController(steps)

	report, err := c.Run(context.Background(), loadDoc(t),
		event.RunContext{Event: event.Push, Ref: "main", RefKind: event.Branch, Actor: "dev"})
	require.NoError(t, err)

	assert.False(t, report.Fired)
	assert.Empty(t, report.Stages)
	assert.Zero(t, steps.calls, "no job may start on a trigger miss")
}

func TestController_PullRequestClosesReleaseGate(t *testing.T) {
	doc := loadDoc(t)
	// Widen the trigger so the PR event fires the run at all.
	doc.On.PullRequest = &event.RefFilter{}

	report, err := newController(&okSteps{}).Run(context.Background(), doc,
		event.RunContext{Event: event.PullRequest, Ref: "feature/x", RefKind: event.Branch, Actor: "dev"})
	require.NoError(t, err)

	require.True(t, report.Fired)
	assert.Equal(t, dag.RunSucceeded, report.Status)

	rel := report.Stages[2]
	assert.Equal(t, dag.StageSkipped, rel.Status)
	assert.Equal(t, dag.SkipGateClosed, rel.SkipReason)
	require.Len(t, rel.Jobs, 1)
	assert.Equal(t, dag.StateSkipped, rel.Jobs[0].State)
}

func TestController_RejectsInvalidRunContext(t *testing.T) {
	_, err := newController(&okSteps{}).Run(context.Background(), loadDoc(t),
		event.RunContext{Event: "cron", Ref: "main", RefKind: event.Branch})
	require.Error(t, err)
}

func TestController_RejectsInvalidDocument(t *testing.T) {
	doc := loadDoc(t)
	doc.Stages[1].Needs = []string{"ghost"}

	_, err := newController(&okSteps{}).Run(context.Background(), doc,
		event.RunContext{Event: event.Push, Ref: "v1.0.0", RefKind: event.Tag})
	require.ErrorIs(t, err, pipeline.ErrSpec)
}

func TestReport_WriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	r := &Report{RunID: "run-1", Pipeline: "release", Fired: true, Status: dag.RunSucceeded}
	require.NoError(t, r.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "run-1", back.RunID)
	assert.Equal(t, dag.RunSucceeded, back.Status)

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.json", entries[0].Name())
}
