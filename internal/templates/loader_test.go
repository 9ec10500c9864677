package templates

import (
	"strings"
	"testing"
)

func TestLoadTemplateRejectsUnknownField(t *testing.T) {
	src := `name: research_summary
version: v1
nodes:
  - id: discover
    depend_on: []
`
	if _, err := LoadTemplate(strings.NewReader(src)); err == nil {
		t.Fatalf("expected decode error for misspelled field, got nil")
	}
}

func TestLoadTemplateParsesNodesAndEdges(t *testing.T) {
	src := `name: research_summary
version: v1
defaults:
  domain: research
nodes:
  - id: discover
    description: discover sources
  - id: finalize
    description: write summary
    depends_on: [discover]
edges:
  - from: discover
    to: finalize
`
	tpl, err := LoadTemplate(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tpl.Name != "research_summary" {
		t.Fatalf("unexpected name: %s", tpl.Name)
	}
	if len(tpl.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(tpl.Nodes))
	}
	if len(tpl.Edges) != 1 || tpl.Edges[0].From != "discover" || tpl.Edges[0].To != "finalize" {
		t.Fatalf("unexpected edges: %+v", tpl.Edges)
	}
}
