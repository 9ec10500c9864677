// Package depgraph implements the Dependency Mapper: it builds a DAG over
// subtask dependencies, rejects cycles, and produces both a flat
// topological order and parallelizable layers for the Execution Planner,
// the way the teacher's cycle detector guards DAG workflows from hanging
// indefinitely on a circular dependency.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Node is the minimal information the mapper needs about a subtask.
type Node struct {
	ID           string
	Dependencies []string
}

// CycleError reports a circular dependency detected while building the
// graph. The orchestrator treats this as a decomposition failure.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// Graph is a resolved, acyclic dependency graph over a set of subtasks.
type Graph struct {
	nodes     map[string]Node
	forward   map[string][]string // id -> ids that depend on it
	indegree  map[string]int
	Order     []string   // flat topological order
	Layers    [][]string // nodes grouped by the layer they can run in, in order
}

// Build constructs a Graph from nodes, detecting unknown dependency
// references (silently dropped, as they cannot form a cycle) and circular
// dependencies (returned as a *CycleError).
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		forward:  make(map[string][]string, len(nodes)),
		indegree: make(map[string]int, len(nodes)),
	}

	for _, n := range nodes {
		g.nodes[n.ID] = n
		if _, ok := g.indegree[n.ID]; !ok {
			g.indegree[n.ID] = 0
		}
		if _, ok := g.forward[n.ID]; !ok {
			g.forward[n.ID] = nil
		}
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				continue
			}
			if _, known := g.nodes[dep]; !known {
				continue
			}
			g.forward[dep] = append(g.forward[dep], n.ID)
			g.indegree[n.ID]++
		}
	}

	order, layers, err := g.kahnLayers()
	if err != nil {
		return nil, err
	}
	g.Order = order
	g.Layers = layers
	return g, nil
}

// kahnLayers runs Kahn's algorithm, grouping each round of zero-indegree
// nodes into one layer so the Execution Planner can run a layer's nodes
// in parallel.
func (g *Graph) kahnLayers() ([]string, [][]string, error) {
	remaining := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		remaining[id] = d
	}

	var order []string
	var layers [][]string

	for len(order) < len(g.nodes) {
		var layer []string
		for id, d := range remaining {
			if d == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			break
		}
		sort.Strings(layer)

		for _, id := range layer {
			delete(remaining, id)
			order = append(order, id)
			for _, next := range g.forward[id] {
				remaining[next]--
			}
		}
		layers = append(layers, layer)
	}

	if len(order) != len(g.nodes) {
		cyclePath := findCyclePath(g.forward, remaining)
		return nil, nil, &CycleError{Path: cyclePath}
	}
	return order, layers, nil
}

// findCyclePath walks forward edges among the still-blocked nodes to
// surface a concrete cycle for the error message.
func findCyclePath(forward map[string][]string, blocked map[string]int) []string {
	if len(blocked) == 0 {
		return nil
	}
	blockedSet := make(map[string]bool, len(blocked))
	for id := range blocked {
		blockedSet[id] = true
	}

	var start string
	for id := range blockedSet {
		start = id
		break
	}

	visited := make(map[string]bool)
	var path []string
	var dfs func(node string) []string
	dfs = func(node string) []string {
		if visited[node] {
			for i, n := range path {
				if n == node {
					return append(append([]string{}, path[i:]...), node)
				}
			}
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range forward[node] {
			if blockedSet[next] {
				if result := dfs(next); result != nil {
					return result
				}
			}
		}
		path = path[:len(path)-1]
		return nil
	}

	if result := dfs(start); result != nil {
		return result
	}

	keys := make([]string, 0, len(blockedSet))
	for id := range blockedSet {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// Dependents returns the IDs of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.forward[id]...)
}

// Len reports the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }
