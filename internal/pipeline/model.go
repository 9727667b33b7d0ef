package pipeline

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"stagerunner/internal/event"
)

// Document is the root of a pipeline specification file.
type Document struct {
	Version int           `yaml:"version"`
	Name    string        `yaml:"name"`
	On      event.Trigger `yaml:"on"`
	Stages  []Stage       `yaml:"stages"`
}

// Stage is one named unit of pipeline work, possibly fanned out by a matrix.
//
// Declared statically; never mutated at run time. Matrix axis values keep
// their declared order; axis names are ordered lexically during expansion.
type Stage struct {
	Name      string              `yaml:"name"`
	Needs     []string            `yaml:"needs,omitempty"`
	Matrix    map[string][]string `yaml:"matrix,omitempty"`
	If        string              `yaml:"if,omitempty"`
	FailFast  *bool               `yaml:"fail_fast,omitempty"`
	Timeout   Duration            `yaml:"timeout,omitempty"`
	Steps     []Step              `yaml:"steps"`
	Artifacts ArtifactSpec        `yaml:"artifacts,omitempty"`
}

// FailFastEnabled resolves the fail-fast policy; the default is true.
func (s Stage) FailFastEnabled() bool {
	if s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Step is a single instruction inside a stage, dispatched to the step
// executor named by Uses.
type Step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// ArtifactSpec declares what a stage produces and consumes.
//
// Produce names artifacts published after the producing job succeeds;
// Outputs maps each produced name to the path the step executor harvests it
// from. Consume references artifacts of upstream stages by (stage, name).
type ArtifactSpec struct {
	Produce []string          `yaml:"produce,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
	Consume []ConsumeRef      `yaml:"consume,omitempty"`
}

// ConsumeRef addresses an upstream artifact. Matrix optionally pins the
// producer to one fan-out instance; empty means all instances.
type ConsumeRef struct {
	Stage  string            `yaml:"stage"`
	Name   string            `yaml:"name"`
	Matrix map[string]string `yaml:"matrix,omitempty"`
}

// Duration is a time.Duration with YAML support for strings like "10m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("timeout must be a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
