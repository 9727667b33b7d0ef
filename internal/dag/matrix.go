package dag

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"stagerunner/internal/pipeline"
)

// Assignment is one resolved matrix-value combination. Empty for stages
// without a matrix.
type Assignment map[string]string

// Canonical renders the assignment as "axis=value" pairs, axes in lexical
// order. Stable across runs; used as the fan-out qualifier in job and
// artifact identities.
func (a Assignment) Canonical() string {
	if len(a) == 0 {
		return ""
	}
	axes := make([]string, 0, len(a))
	for axis := range a {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		parts = append(parts, axis+"="+a[axis])
	}
	return strings.Join(parts, ",")
}

// Matches reports whether the assignment agrees with every pin in sel.
func (a Assignment) Matches(sel map[string]string) bool {
	for axis, want := range sel {
		if a[axis] != want {
			return false
		}
	}
	return true
}

// JobInstance is one concrete, schedulable unit: a stage resolved against a
// single matrix assignment, with axis substitutions already applied to its
// steps and artifact paths. Immutable once expanded.
type JobInstance struct {
	Stage      string
	ID         string // "build[os=linux]", or the stage name when unfanned
	Assignment Assignment
	Qualifier  string // Assignment.Canonical(); empty when unfanned
	Steps      []pipeline.Step
	Produce    []string
	Outputs    map[string]string
	Consume    []pipeline.ConsumeRef
	Timeout    time.Duration
	FailFast   bool
}

// ExpandStage produces the full Cartesian product of the stage's matrix
// axes: one JobInstance per combination, axes iterated in lexical order
// with values in declared order so the result is deterministic. A stage
// without a matrix expands to exactly one instance. An axis with no values
// is a specification error, never a silent zero-job stage.
func ExpandStage(st pipeline.Stage) ([]*JobInstance, error) {
	axes := make([]string, 0, len(st.Matrix))
	for axis, values := range st.Matrix {
		if len(values) == 0 {
			return nil, pipeline.SpecErrorf("stage %q matrix axis %q has no values", st.Name, axis)
		}
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	assignments := []Assignment{{}}
	for _, axis := range axes {
		next := make([]Assignment, 0, len(assignments)*len(st.Matrix[axis]))
		for _, base := range assignments {
			for _, value := range st.Matrix[axis] {
				a := make(Assignment, len(base)+1)
				for k, v := range base {
					a[k] = v
				}
				a[axis] = value
				next = append(next, a)
			}
		}
		assignments = next
	}

	jobs := make([]*JobInstance, 0, len(assignments))
	for _, a := range assignments {
		jobs = append(jobs, instantiate(st, a))
	}
	return jobs, nil
}

func instantiate(st pipeline.Stage, a Assignment) *JobInstance {
	qualifier := a.Canonical()
	id := st.Name
	if qualifier != "" {
		id = st.Name + "[" + qualifier + "]"
	}

	steps := make([]pipeline.Step, len(st.Steps))
	for i, step := range st.Steps {
		steps[i] = pipeline.Step{
			Name: step.Name,
			Uses: step.Uses,
			Run:  substitute(step.Run, a),
			Env:  substituteMap(step.Env, a),
		}
	}

	return &JobInstance{
		Stage:      st.Name,
		ID:         id,
		Assignment: a,
		Qualifier:  qualifier,
		Steps:      steps,
		Produce:    append([]string(nil), st.Artifacts.Produce...),
		Outputs:    substituteMap(st.Artifacts.Outputs, a),
		Consume:    append([]pipeline.ConsumeRef(nil), st.Artifacts.Consume...),
		Timeout:    st.Timeout.Std(),
		FailFast:   st.FailFastEnabled(),
	}
}

var matrixRef = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// substitute replaces ${{ matrix.<axis> }} references with the assignment's
// value for that axis. References to axes outside the assignment are left
// untouched.
func substitute(s string, a Assignment) string {
	if len(a) == 0 || !strings.Contains(s, "${{") {
		return s
	}
	return matrixRef.ReplaceAllStringFunc(s, func(ref string) string {
		axis := matrixRef.FindStringSubmatch(ref)[1]
		if value, ok := a[axis]; ok {
			return value
		}
		return ref
	})
}

func substituteMap(m map[string]string, a Assignment) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = substitute(v, a)
	}
	return out
}
