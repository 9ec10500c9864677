package planner

import (
	"testing"

	"github.com/taskmesh/orchestrator/internal/depgraph"
)

func buildGraph(t *testing.T, nodes []depgraph.Node) *depgraph.Graph {
	t.Helper()
	g, err := depgraph.Build(nodes)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func TestPlanStagesMatchLayers(t *testing.T) {
	g := buildGraph(t, []depgraph.Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	})
	p := Plan(g, nil)
	if len(p.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(p.Stages))
	}
	if !p.CanParallelize {
		t.Fatalf("expected can_parallelize true for a stage with 2 nodes")
	}
}

func TestPlanNoParallelismOnLinearChain(t *testing.T) {
	g := buildGraph(t, []depgraph.Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})
	p := Plan(g, nil)
	if p.CanParallelize {
		t.Fatalf("linear chain should not be marked parallelizable")
	}
	if p.CriticalLength != 3 {
		t.Fatalf("expected critical length 3 with unit weights, got %f", p.CriticalLength)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if p.CriticalPath[i] != id {
			t.Fatalf("expected critical path %v, got %v", want, p.CriticalPath)
		}
	}
}

type fakeWeigher map[string]float64

func (f fakeWeigher) Weight(id string) (float64, bool) {
	w, ok := f[id]
	return w, ok
}

func TestPlanCriticalPathRespectsWeights(t *testing.T) {
	g := buildGraph(t, []depgraph.Node{
		{ID: "root"},
		{ID: "short", Dependencies: []string{"root"}},
		{ID: "long", Dependencies: []string{"root"}},
		{ID: "join", Dependencies: []string{"short", "long"}},
	})
	weights := fakeWeigher{"root": 1, "short": 1, "long": 10, "join": 1}
	p := Plan(g, weights)
	if p.CriticalLength != 12 {
		t.Fatalf("expected critical length 12 (root+long+join), got %f", p.CriticalLength)
	}
	found := false
	for _, id := range p.CriticalPath {
		if id == "long" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected critical path to include the heavier 'long' node, got %v", p.CriticalPath)
	}
}
