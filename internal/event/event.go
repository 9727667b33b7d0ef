// Package event models the triggering VCS event and the pipeline trigger
// declaration evaluated against it.
package event

import (
	"fmt"
)

// Kind is the class of VCS event that requests a pipeline run.
type Kind string

const (
	Push        Kind = "push"
	PullRequest Kind = "pull_request"
)

// RefKind distinguishes branch refs from tag refs.
type RefKind string

const (
	Branch RefKind = "branch"
	Tag    RefKind = "tag"
)

// RunContext is the immutable per-run view of the triggering event.
//
// It is created once from the external event and is read-only for the rest
// of the run. It implements cond.Vars so conditions and compiled trigger
// clauses evaluate against it directly.
type RunContext struct {
	Event   Kind
	Ref     string
	RefKind RefKind
	Actor   string
}

// Lookup implements cond.Vars over the run context.
func (rc RunContext) Lookup(name string) (string, bool) {
	switch name {
	case "event":
		return string(rc.Event), true
	case "ref":
		return rc.Ref, true
	case "ref_kind":
		return string(rc.RefKind), true
	case "actor":
		return rc.Actor, true
	default:
		return "", false
	}
}

// KnownVars lists the variable names a condition may reference. Validation
// rejects expressions that reference anything else before a run starts.
var KnownVars = []string{"actor", "event", "ref", "ref_kind"}

// IsKnownVar reports whether name is a resolvable run-context variable.
func IsKnownVar(name string) bool {
	for _, v := range KnownVars {
		if v == name {
			return true
		}
	}
	return false
}

// Validate rejects run contexts the engine cannot interpret.
func (rc RunContext) Validate() error {
	switch rc.Event {
	case Push, PullRequest:
	default:
		return fmt.Errorf("unsupported event kind %q", rc.Event)
	}
	switch rc.RefKind {
	case Branch, Tag:
	default:
		return fmt.Errorf("unsupported ref kind %q", rc.RefKind)
	}
	if rc.Ref == "" {
		return fmt.Errorf("ref is required")
	}
	return nil
}

func (rc RunContext) String() string {
	return fmt.Sprintf("%s %s:%s by %s", rc.Event, rc.RefKind, rc.Ref, rc.Actor)
}
