package event

import (
	"stagerunner/internal/cond"
)

// Trigger is the pipeline-level "on" declaration: which events, on which
// refs, fire a run. A nil filter for an event means the pipeline never
// fires for that event; the evaluator fails closed.
type Trigger struct {
	Push        *RefFilter `yaml:"push,omitempty"`
	PullRequest *RefFilter `yaml:"pull_request,omitempty"`
}

// RefFilter narrows an event clause to particular refs. Branch names match
// exactly; tag patterns are anchored globs. An empty (but present) filter
// matches any ref of the event's kind.
type RefFilter struct {
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// ShouldRun reports whether the trigger fires for the given event.
//
// Pure predicate: no clause matching the event means no run. Each clause is
// compiled onto the condition evaluator, so trigger matching and stage
// gating share one set of matching semantics.
func ShouldRun(tr Trigger, rc RunContext) bool {
	expr := tr.Compile()
	if expr == nil {
		return false
	}
	ok, err := expr.Eval(rc)
	if err != nil {
		// Fail closed: an unevaluable trigger never starts a run.
		return false
	}
	return ok
}

// Compile lowers the trigger declaration into a single condition expression,
// OR-ing one sub-expression per declared clause. The expression is built
// from cond constructors, so ref names and patterns are carried verbatim,
// never quoted through the expression syntax. Returns nil when no clause is
// declared.
func (tr Trigger) Compile() *cond.Expr {
	var expr *cond.Expr
	add := func(clause *cond.Expr) {
		if expr == nil {
			expr = clause
		} else {
			expr = cond.Or(expr, clause)
		}
	}
	if tr.Push != nil {
		for _, clause := range tr.Push.clauses(Push) {
			add(clause)
		}
	}
	if tr.PullRequest != nil {
		for _, clause := range tr.PullRequest.clauses(PullRequest) {
			add(clause)
		}
	}
	return expr
}

// clauses renders the filter as sub-expressions for one event kind.
func (f *RefFilter) clauses(kind Kind) []*cond.Expr {
	base := cond.Eq("event", string(kind))

	if len(f.Branches) == 0 && len(f.Tags) == 0 {
		// Bare clause: any ref fires for this event.
		return []*cond.Expr{base}
	}
	var out []*cond.Expr
	if len(f.Branches) > 0 {
		out = append(out, cond.And(
			cond.And(base, cond.Eq("ref_kind", string(Branch))),
			refAlternation(f.Branches, false)))
	}
	if len(f.Tags) > 0 {
		out = append(out, cond.And(
			cond.And(base, cond.Eq("ref_kind", string(Tag))),
			refAlternation(f.Tags, true)))
	}
	return out
}

func refAlternation(patterns []string, glob bool) *cond.Expr {
	var expr *cond.Expr
	for _, p := range patterns {
		var term *cond.Expr
		if glob {
			term = cond.Match("ref", p)
		} else {
			term = cond.Eq("ref", p)
		}
		if expr == nil {
			expr = term
		} else {
			expr = cond.Or(expr, term)
		}
	}
	return expr
}
