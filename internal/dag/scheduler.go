package dag

import "sort"

// ReadyJobs returns the deterministically ordered list of job IDs eligible
// to start.
//
// A job is ready iff it is pending, its stage's gate has been resolved
// open, and every job of every needed stage has succeeded. The list is
// sorted by (stage topological depth asc, job ID asc).
//
// Pure function: neither graph nor state is mutated.
func ReadyJobs(rg *RunGraph, state ExecutionState, open map[string]bool) []string {
	if rg == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range rg.Stages.Nodes() {
		if !open[node.Name] {
			continue
		}
		if !needsSucceeded(rg, state, node.Spec.Needs) {
			continue
		}
		for _, id := range rg.jobsByStage[node.Name] {
			if state[id] == StatePending {
				ready = append(ready, id)
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := rg.Stages.Depth(rg.jobs[a].Stage)
		bd, _ := rg.Stages.Depth(rg.jobs[b].Stage)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})
	return ready
}

func needsSucceeded(rg *RunGraph, state ExecutionState, needs []string) bool {
	for _, need := range needs {
		for _, id := range rg.jobsByStage[need] {
			if state[id] != StateSucceeded {
				return false
			}
		}
	}
	return true
}
