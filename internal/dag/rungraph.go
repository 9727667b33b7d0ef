package dag

import (
	"sort"

	"stagerunner/internal/cond"
	"stagerunner/internal/pipeline"
)

// RunGraph is the fully expanded execution plan for one run: the validated
// stage graph plus every job instance, materialized as data so the executor
// can reason about completeness, cancellation, and artifact fan-out
// uniformly. Immutable after construction.
type RunGraph struct {
	Stages *StageGraph

	jobs        map[string]*JobInstance
	jobsByStage map[string][]string // job IDs per stage, sorted
	gates       map[string]*cond.Expr
}

// NewRunGraph validates the stage set, expands every stage's matrix, and
// parses every gate condition. All specification errors surface here,
// before any trigger is evaluated or job dispatched.
func NewRunGraph(stages []pipeline.Stage) (*RunGraph, error) {
	sg, err := NewStageGraph(stages)
	if err != nil {
		return nil, err
	}

	rg := &RunGraph{
		Stages:      sg,
		jobs:        make(map[string]*JobInstance),
		jobsByStage: make(map[string][]string, len(stages)),
		gates:       make(map[string]*cond.Expr),
	}

	for _, node := range sg.Nodes() {
		expanded, err := ExpandStage(node.Spec)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(expanded))
		for _, job := range expanded {
			rg.jobs[job.ID] = job
			ids = append(ids, job.ID)
		}
		sort.Strings(ids)
		rg.jobsByStage[node.Name] = ids

		if node.Spec.If != "" {
			expr, err := cond.Parse(node.Spec.If)
			if err != nil {
				return nil, pipeline.SpecErrorf("stage %q condition: %v", node.Name, err)
			}
			rg.gates[node.Name] = expr
		}
	}

	return rg, nil
}

// Job returns a job instance by ID.
func (rg *RunGraph) Job(id string) (*JobInstance, bool) {
	j, ok := rg.jobs[id]
	return j, ok
}

// Jobs returns all job IDs in canonical order (stage lexical, then job ID).
func (rg *RunGraph) Jobs() []string {
	out := make([]string, 0, len(rg.jobs))
	for _, node := range rg.Stages.Nodes() {
		out = append(out, rg.jobsByStage[node.Name]...)
	}
	return out
}

// StageJobs returns the sorted job IDs of one stage.
func (rg *RunGraph) StageJobs(stage string) []string {
	return rg.jobsByStage[stage]
}

// Gate returns the parsed condition for a stage, or nil when ungated.
func (rg *RunGraph) Gate(stage string) *cond.Expr {
	return rg.gates[stage]
}
