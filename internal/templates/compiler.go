package templates

import (
	"fmt"
	"sort"
)

// ExecutableNode represents a compiled template node ready for the
// decomposer to turn into a concrete subtask.
type ExecutableNode struct {
	ID                   string
	Description          string
	Domain               string
	EstimatedTokens       int
	SuggestedPersonaRole string
	SuggestedTools       []string
	Metadata             map[string]interface{}
	DependsOn            []string
}

// ExecutablePlan is a deterministic representation of a template ready for decomposition.
type ExecutablePlan struct {
	TemplateName    string
	TemplateVersion string
	Defaults        TemplateDefaults
	Nodes           map[string]ExecutableNode
	Order           []string
	Adjacency       map[string][]string
	Checksum        string
}

// CompileTemplate converts a validated template into an ExecutablePlan.
func CompileTemplate(tpl *Template) (*ExecutablePlan, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is nil")
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}

	plan := &ExecutablePlan{
		TemplateName:    tpl.Name,
		TemplateVersion: tpl.Version,
		Defaults:        tpl.Defaults,
		Nodes:           make(map[string]ExecutableNode, len(tpl.Nodes)),
		Adjacency:       make(map[string][]string, len(tpl.Nodes)),
	}

	for _, node := range tpl.Nodes {
		tokens := tpl.Defaults.EstimatedTokens
		if node.EstimatedTokens != nil {
			tokens = *node.EstimatedTokens
		}
		domain := node.Domain
		if domain == "" {
			domain = tpl.Defaults.Domain
		}
		role := node.SuggestedPersonaRole
		if role == "" {
			role = tpl.Defaults.SuggestedPersonaRole
		}
		plan.Nodes[node.ID] = ExecutableNode{
			ID:                   node.ID,
			Description:          node.Description,
			Domain:               domain,
			EstimatedTokens:       tokens,
			SuggestedPersonaRole: role,
			SuggestedTools:       append([]string(nil), node.SuggestedTools...),
			Metadata:             cloneMap(node.Metadata),
			DependsOn:            append([]string(nil), node.DependsOn...),
		}
		plan.Adjacency[node.ID] = nil
	}

	edgeSet := make(map[string]map[string]struct{}, len(plan.Nodes))
	for id := range plan.Nodes {
		edgeSet[id] = make(map[string]struct{})
	}

	indegree := make(map[string]int, len(plan.Nodes))

	addEdge := func(from, to string) {
		if from == "" || to == "" || from == to {
			return
		}
		if _, ok := edgeSet[from][to]; ok {
			return
		}
		edgeSet[from][to] = struct{}{}
		indegree[to]++
	}

	for _, node := range tpl.Nodes {
		for _, dep := range node.DependsOn {
			addEdge(dep, node.ID)
		}
	}

	for _, edge := range tpl.Edges {
		addEdge(edge.From, edge.To)
	}

	for from, targets := range edgeSet {
		if len(targets) == 0 {
			continue
		}
		plan.Adjacency[from] = make([]string, 0, len(targets))
		for to := range targets {
			plan.Adjacency[from] = append(plan.Adjacency[from], to)
		}
		sort.Strings(plan.Adjacency[from])
	}

	for id := range plan.Nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
	}

	order, err := topologicalOrder(plan.Adjacency, indegree)
	if err != nil {
		return nil, err
	}
	plan.Order = order

	return plan, nil
}

func topologicalOrder(adjacency map[string][]string, indegree map[string]int) ([]string, error) {
	zero := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d == 0 {
			zero = append(zero, id)
		}
	}
	sort.Strings(zero)

	order := make([]string, 0, len(indegree))
	for len(zero) > 0 {
		current := zero[0]
		zero = zero[1:]
		order = append(order, current)

		for _, next := range adjacency[current] {
			indegree[next]--
			if indegree[next] == 0 {
				zero = append(zero, next)
			}
		}
		sort.Strings(zero)
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("cycle detected in template graph")
	}
	return order, nil
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
