package pipeline

import (
	"errors"
	"fmt"

	"stagerunner/internal/cond"
	"stagerunner/internal/event"
)

// ErrSpec is the root of all specification errors: defects in the static
// pipeline declaration that abort a run before any job starts.
var ErrSpec = errors.New("pipeline specification error")

// SpecError wraps a specification defect with its description.
type SpecError struct {
	Msg string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSpec.Error(), e.Msg)
}

func (e *SpecError) Unwrap() error { return ErrSpec }

// SpecErrorf builds a SpecError. Exported so the graph layer can report
// cycle and expansion defects in the same taxonomy.
func SpecErrorf(format string, args ...any) error {
	return &SpecError{Msg: fmt.Sprintf(format, args...)}
}

func specErrorf(format string, args ...any) error {
	return SpecErrorf(format, args...)
}

// Validate checks the static document for every defect that must be caught
// before trigger evaluation: duplicate or empty stage names, stages without
// steps, dangling or self-referential needs, empty matrix axes, duplicate
// axis values, malformed gate conditions, unknown condition variables, and
// artifact contract violations. Cycle detection lives with the graph
// builder, which also runs before any trigger is evaluated.
func Validate(doc *Document) error {
	if doc == nil {
		return specErrorf("nil document")
	}
	if doc.Name == "" {
		return specErrorf("pipeline name is required")
	}
	if len(doc.Stages) == 0 {
		return specErrorf("pipeline declares no stages")
	}

	byName := make(map[string]*Stage, len(doc.Stages))
	for i := range doc.Stages {
		st := &doc.Stages[i]
		if st.Name == "" {
			return specErrorf("stage %d: name is required", i)
		}
		if _, dup := byName[st.Name]; dup {
			return specErrorf("duplicate stage name %q", st.Name)
		}
		byName[st.Name] = st
	}

	for i := range doc.Stages {
		if err := validateStage(&doc.Stages[i], byName); err != nil {
			return err
		}
	}

	// Artifact consumption must follow needs edges: a consumer may only
	// reference stages it (transitively) needs, otherwise the visibility
	// barrier tied to producer completion has no ordering to hang on.
	for i := range doc.Stages {
		st := &doc.Stages[i]
		closure := transitiveNeeds(st.Name, byName)
		for _, ref := range st.Artifacts.Consume {
			producer, ok := byName[ref.Stage]
			if !ok {
				return specErrorf("stage %q consumes artifact from unknown stage %q", st.Name, ref.Stage)
			}
			if _, reachable := closure[ref.Stage]; !reachable {
				return specErrorf("stage %q consumes artifact %q from stage %q without a needs edge", st.Name, ref.Name, ref.Stage)
			}
			if !contains(producer.Artifacts.Produce, ref.Name) {
				return specErrorf("stage %q consumes artifact %q that stage %q does not produce", st.Name, ref.Name, ref.Stage)
			}
			for axis := range ref.Matrix {
				if _, ok := producer.Matrix[axis]; !ok {
					return specErrorf("stage %q pins unknown matrix axis %q of stage %q", st.Name, axis, ref.Stage)
				}
			}
		}
	}

	return nil
}

func validateStage(st *Stage, byName map[string]*Stage) error {
	if len(st.Steps) == 0 {
		return specErrorf("stage %q declares no steps", st.Name)
	}
	for j, step := range st.Steps {
		if step.Run == "" {
			return specErrorf("stage %q step %d: run is required", st.Name, j)
		}
	}

	seenNeeds := map[string]struct{}{}
	for _, need := range st.Needs {
		if need == st.Name {
			return specErrorf("stage %q needs itself", st.Name)
		}
		if _, ok := byName[need]; !ok {
			return specErrorf("stage %q needs unknown stage %q", st.Name, need)
		}
		if _, dup := seenNeeds[need]; dup {
			return specErrorf("stage %q lists need %q twice", st.Name, need)
		}
		seenNeeds[need] = struct{}{}
	}

	for axis, values := range st.Matrix {
		if len(values) == 0 {
			// An empty axis would silently expand the stage to zero jobs;
			// treat that as a declaration defect instead.
			return specErrorf("stage %q matrix axis %q has no values", st.Name, axis)
		}
		seen := map[string]struct{}{}
		for _, v := range values {
			if v == "" {
				return specErrorf("stage %q matrix axis %q has an empty value", st.Name, axis)
			}
			if _, dup := seen[v]; dup {
				return specErrorf("stage %q matrix axis %q repeats value %q", st.Name, axis, v)
			}
			seen[v] = struct{}{}
		}
	}

	if st.If != "" {
		expr, err := cond.Parse(st.If)
		if err != nil {
			return specErrorf("stage %q condition: %v", st.Name, err)
		}
		for _, ident := range expr.Identifiers() {
			if !event.IsKnownVar(ident) {
				return specErrorf("stage %q condition references unknown variable %q", st.Name, ident)
			}
		}
	}

	if st.Timeout < 0 {
		return specErrorf("stage %q has a negative timeout", st.Name)
	}

	seenProduce := map[string]struct{}{}
	for _, name := range st.Artifacts.Produce {
		if name == "" {
			return specErrorf("stage %q produces an unnamed artifact", st.Name)
		}
		if _, dup := seenProduce[name]; dup {
			return specErrorf("stage %q produces artifact %q twice", st.Name, name)
		}
		seenProduce[name] = struct{}{}
		if _, ok := st.Artifacts.Outputs[name]; !ok {
			return specErrorf("stage %q produces artifact %q without an output path", st.Name, name)
		}
	}
	for name := range st.Artifacts.Outputs {
		if _, ok := seenProduce[name]; !ok {
			return specErrorf("stage %q maps output for undeclared artifact %q", st.Name, name)
		}
	}

	return nil
}

// transitiveNeeds returns every stage reachable from name along needs edges.
// Cycles are tolerated here (terminates via the visited set); the graph
// builder rejects them with a proper witness.
func transitiveNeeds(name string, byName map[string]*Stage) map[string]struct{} {
	out := map[string]struct{}{}
	var walk func(n string)
	walk = func(n string) {
		st, ok := byName[n]
		if !ok {
			return
		}
		for _, need := range st.Needs {
			if _, seen := out[need]; seen {
				continue
			}
			out[need] = struct{}{}
			walk(need)
		}
	}
	walk(name)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
