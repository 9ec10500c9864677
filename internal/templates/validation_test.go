package templates

import (
	"strings"
	"testing"
)

func TestValidateTemplateSuccess(t *testing.T) {
	tpl := &Template{
		Name:     "research_summary",
		Defaults: TemplateDefaults{Domain: "research", EstimatedTokens: 6000},
		Nodes: []TemplateNode{
			{ID: "discover", Description: "discover relevant sources"},
			{ID: "reason", Description: "synthesize findings", DependsOn: []string{"discover"}},
			{ID: "finalize", Description: "write the summary", DependsOn: []string{"reason"}},
		},
		Edges: []TemplateEdge{
			{From: "discover", To: "reason"},
			{From: "reason", To: "finalize"},
		},
	}

	if err := ValidateTemplate(tpl); err != nil {
		t.Fatalf("expected template to validate, got %v", err)
	}
}

func TestValidateTemplateDetectsCycle(t *testing.T) {
	tpl := &Template{
		Name: "cycle",
		Nodes: []TemplateNode{
			{ID: "a", Description: "a", DependsOn: []string{"c"}},
			{ID: "b", Description: "b", DependsOn: []string{"a"}},
			{ID: "c", Description: "c", DependsOn: []string{"b"}},
		},
	}

	err := ValidateTemplate(tpl)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	vErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	found := false
	for _, issue := range vErr.Issues {
		if issue.Code == "graph_cycle" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected cycle detected issue, got %+v", vErr.Issues)
	}
}

func TestValidateTemplateMissingDescription(t *testing.T) {
	tpl := &Template{
		Name:  "bad_node",
		Nodes: []TemplateNode{{ID: "n1"}},
	}

	err := ValidateTemplate(tpl)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "missing a description") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTemplateNegativeTokens(t *testing.T) {
	negative := -100
	tpl := &Template{
		Name:  "bad_tokens",
		Nodes: []TemplateNode{{ID: "n1", Description: "n1", EstimatedTokens: &negative}},
	}

	err := ValidateTemplate(tpl)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "estimated_tokens cannot be negative") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTemplateUnknownDependency(t *testing.T) {
	tpl := &Template{
		Name:  "bad_dep",
		Nodes: []TemplateNode{{ID: "n1", Description: "n1", DependsOn: []string{"missing"}}},
	}

	err := ValidateTemplate(tpl)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "depends on unknown node") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadTemplateRejectsUnknownFields(t *testing.T) {
	yaml := `name: sample
defaults:
  domain: development
nodes:
  - id: a
    description: a
    extra: true
`
	_, err := LoadTemplate(strings.NewReader(yaml))
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "field extra not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}
