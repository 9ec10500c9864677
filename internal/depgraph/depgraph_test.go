package depgraph

import "testing"

func TestBuildLinearChain(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if g.Order[i] != id {
			t.Fatalf("expected order %v, got %v", want, g.Order)
		}
	}
	if len(g.Layers) != 3 {
		t.Fatalf("expected 3 layers for a linear chain, got %d", len(g.Layers))
	}
}

func TestBuildParallelLayer(t *testing.T) {
	g, err := Build([]Node{
		{ID: "root"},
		{ID: "a", Dependencies: []string{"root"}},
		{ID: "b", Dependencies: []string{"root"}},
		{ID: "join", Dependencies: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %v", len(g.Layers), g.Layers)
	}
	if len(g.Layers[1]) != 2 {
		t.Fatalf("expected the middle layer to parallelize a and b, got %v", g.Layers[1])
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	_, err := Build([]Node{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})
	if err == nil {
		t.Fatalf("expected a cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
}

func TestBuildIgnoresUnknownDependency(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a", Dependencies: []string{"ghost"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Order) != 1 || g.Order[0] != "a" {
		t.Fatalf("expected order [a], got %v", g.Order)
	}
}

func TestBuildIgnoresSelfDependency(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a", Dependencies: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("self-dependency should not be treated as a cycle: %v", err)
	}
	if len(g.Order) != 1 {
		t.Fatalf("expected single-node order, got %v", g.Order)
	}
}

func TestDependents(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents of a, got %v", deps)
	}
}
