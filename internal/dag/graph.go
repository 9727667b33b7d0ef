package dag

import (
	"container/heap"
	"sort"
	"strings"

	"stagerunner/internal/pipeline"
)

// StageNode is an immutable node in the StageGraph.
type StageNode struct {
	Name           string
	Spec           pipeline.Stage
	canonicalIndex int
}

// StageGraph is the immutable, validated DAG of stages: needs edges point
// from prerequisite to dependent. Safe for concurrent read access.
type StageGraph struct {
	nodesByName map[string]*StageNode
	nodes       []*StageNode // canonical order: lexical by name

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int
	depth    []int // topological depth
}

// NewStageGraph builds and validates a StageGraph.
//
// Dangling needs and duplicate names are rejected here even though document
// validation catches them too; the graph must be safe to build from any
// caller. Cycles are rejected with a deterministic witness path.
func NewStageGraph(stages []pipeline.Stage) (*StageGraph, error) {
	if len(stages) == 0 {
		return nil, pipeline.SpecErrorf("no stages")
	}

	nodesByName := make(map[string]*StageNode, len(stages))
	nodes := make([]*StageNode, 0, len(stages))
	for _, st := range stages {
		if st.Name == "" {
			return nil, pipeline.SpecErrorf("stage name is required")
		}
		if _, exists := nodesByName[st.Name]; exists {
			return nil, pipeline.SpecErrorf("duplicate stage name: %q", st.Name)
		}
		node := &StageNode{Name: st.Name, Spec: st}
		nodesByName[st.Name] = node
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, n := range nodes {
		for _, need := range n.Spec.Needs {
			from, ok := nodesByName[need]
			if !ok {
				return nil, pipeline.SpecErrorf("stage %q needs unknown stage %q", n.Name, need)
			}
			if from.Name == n.Name {
				return nil, pipeline.SpecErrorf("stage %q needs itself", n.Name)
			}
			outgoing[from.canonicalIndex] = append(outgoing[from.canonicalIndex], n.canonicalIndex)
			incoming[n.canonicalIndex] = append(incoming[n.canonicalIndex], from.canonicalIndex)
			indeg[n.canonicalIndex]++
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &StageGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// validateAcyclic proves the graph has no cycles using Kahn's algorithm; on
// failure it extracts one deterministic cycle path for the error message.
func (g *StageGraph) validateAcyclic() error {
	order := g.topoOrderIndices()
	if len(order) == len(g.nodes) {
		return nil
	}
	path := g.findCycleDeterministic()
	return pipeline.SpecErrorf("stage dependency cycle: %s", strings.Join(path, " -> "))
}

// Node returns a stage node by name.
func (g *StageGraph) Node(name string) (*StageNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the stages in canonical (lexical) order.
func (g *StageGraph) Nodes() []*StageNode {
	out := make([]*StageNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// TopologicalOrder returns a deterministic topological ordering of stage
// names. The graph is validated on construction, so this cannot fail.
func (g *StageGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// Depth returns the topological depth of the named stage: the length of the
// longest needs chain leading to it.
func (g *StageGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

func (g *StageGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of node
// indices; the ready queue is a min-heap by canonical index.
func (g *StageGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycleDeterministic runs a DFS over canonical indices and extracts one
// stable cycle path for error reporting.
func (g *StageGraph) findCycleDeterministic() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < len(g.nodes); i++ {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].Name)
	}
	return out
}
