package dag

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"stagerunner/internal/pipeline"
)

func stage(name string, needs ...string) pipeline.Stage {
	return pipeline.Stage{
		Name:  name,
		Needs: needs,
		Steps: []pipeline.Step{{Name: "s", Run: "true"}},
	}
}

func TestStageGraph_TopologicalOrder(t *testing.T) {
	g, err := NewStageGraph([]pipeline.Stage{
		stage("release", "build"),
		stage("build", "test"),
		stage("test"),
		stage("lint"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := g.TopologicalOrder()
	want := []string{"lint", "test", "build", "release"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("topological order mismatch: got %v want %v", got, want)
	}
}

func TestStageGraph_Depth(t *testing.T) {
	g, err := NewStageGraph([]pipeline.Stage{
		stage("a"),
		stage("b", "a"),
		stage("c", "a", "b"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, want := range map[string]int{"a": 0, "b": 1, "c": 2} {
		got, ok := g.Depth(name)
		if !ok || got != want {
			t.Fatalf("depth of %q: got %d (%v) want %d", name, got, ok, want)
		}
	}
}

func TestStageGraph_RejectsCycle(t *testing.T) {
	_, err := NewStageGraph([]pipeline.Stage{
		stage("a", "c"),
		stage("b", "a"),
		stage("c", "b"),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, pipeline.ErrSpec) {
		t.Fatalf("expected spec error, got %T: %v", err, err)
	}
	if want := "cycle"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should mention %q", err.Error(), want)
	}
}

func TestStageGraph_RejectsDanglingAndSelfNeeds(t *testing.T) {
	if _, err := NewStageGraph([]pipeline.Stage{stage("a", "ghost")}); err == nil {
		t.Fatal("expected dangling-needs error")
	}
	if _, err := NewStageGraph([]pipeline.Stage{stage("a", "a")}); err == nil {
		t.Fatal("expected self-needs error")
	}
	if _, err := NewStageGraph(nil); err == nil {
		t.Fatal("expected empty-graph error")
	}
	if _, err := NewStageGraph([]pipeline.Stage{stage("a"), stage("a")}); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}
