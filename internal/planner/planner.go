// Package planner implements the Execution Planner: it turns a dependency
// graph into a schedule of stages, grounded on the teacher's stage
// concept and strategy naming (internal/workflows/types.go,
// internal/workflows/strategies) though reimplemented here as a pure,
// data-only schedule rather than a Temporal workflow definition.
package planner

import (
	"github.com/taskmesh/orchestrator/internal/depgraph"
)

// Stage is one layer of subtasks that may run concurrently.
type Stage struct {
	SubtaskIDs []string
}

// Schedule is the output of the planner: an ordered sequence of stages plus
// the critical path through the graph.
type Schedule struct {
	Stages         []Stage
	CriticalPath   []string
	CriticalLength float64
	CanParallelize bool
}

// Weigher supplies a subtask's critical-path weight. The orchestrator's
// implementation derives it from the assigned persona's success score;
// no measured durations are recorded or used. A nil Weigher (or a miss)
// defaults every subtask to a weight of 1.
type Weigher interface {
	Weight(subtaskID string) (float64, bool)
}

// Plan builds a schedule from a dependency graph. Stages are the graph's
// topological layers, in increasing depth.
func Plan(g *depgraph.Graph, weigher Weigher) *Schedule {
	stages := make([]Stage, 0, len(g.Layers))
	canParallelize := false
	for _, layer := range g.Layers {
		stages = append(stages, Stage{SubtaskIDs: append([]string(nil), layer...)})
		if len(layer) > 1 {
			canParallelize = true
		}
	}

	path, length := criticalPath(g, weigher)

	return &Schedule{
		Stages:         stages,
		CriticalPath:   path,
		CriticalLength: length,
		CanParallelize: canParallelize,
	}
}

// criticalPath finds the longest-weight path through the DAG using a
// single topological-order relaxation pass (longest path in a DAG is
// linear time, the mirror image of DAG shortest path).
func criticalPath(g *depgraph.Graph, weigher Weigher) ([]string, float64) {
	weight := func(id string) float64 {
		if weigher != nil {
			if w, ok := weigher.Weight(id); ok {
				return w
			}
		}
		return 1
	}

	dist := make(map[string]float64, g.Len())
	prev := make(map[string]string, g.Len())

	var best string
	var bestDist float64

	for _, id := range g.Order {
		if _, ok := dist[id]; !ok {
			// no predecessor relaxed this node: it starts its own path
			dist[id] = weight(id)
		}

		if dist[id] > bestDist {
			bestDist = dist[id]
			best = id
		}

		for _, next := range g.Dependents(id) {
			candidate := dist[id] + weight(next)
			if candidate > dist[next] {
				dist[next] = candidate
				prev[next] = id
			}
		}
	}

	if best == "" {
		return nil, 0
	}

	var path []string
	for node := best; node != ""; {
		path = append([]string{node}, path...)
		p, ok := prev[node]
		if !ok {
			break
		}
		node = p
	}
	return path, bestDist
}
