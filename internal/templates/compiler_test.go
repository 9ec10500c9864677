package templates

import "testing"

func TestCompileTemplateOrdersLinearChain(t *testing.T) {
	tpl := &Template{
		Name: "development",
		Nodes: []TemplateNode{
			{ID: "design", Description: "design the interface"},
			{ID: "implement", Description: "implement the design", DependsOn: []string{"design"}},
			{ID: "test", Description: "test the implementation", DependsOn: []string{"implement"}},
		},
	}

	plan, err := CompileTemplate(tpl)
	if err != nil {
		t.Fatalf("CompileTemplate failed: %v", err)
	}
	want := []string{"design", "implement", "test"}
	if len(plan.Order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, plan.Order)
	}
	for i, id := range want {
		if plan.Order[i] != id {
			t.Fatalf("expected order %v, got %v", want, plan.Order)
		}
	}
	if plan.Nodes["design"].EstimatedTokens != 0 {
		t.Fatalf("expected default estimated tokens 0, got %d", plan.Nodes["design"].EstimatedTokens)
	}
}

func TestCompileTemplateFanOutFanIn(t *testing.T) {
	oneThousand := 1000
	tpl := &Template{
		Name:     "devops",
		Defaults: TemplateDefaults{EstimatedTokens: 4000},
		Nodes: []TemplateNode{
			{ID: "provision", Description: "provision infrastructure"},
			{ID: "configure", Description: "configure services", DependsOn: []string{"provision"}, EstimatedTokens: &oneThousand},
			{ID: "deploy", Description: "deploy application", DependsOn: []string{"provision"}},
			{ID: "verify", Description: "verify deployment", DependsOn: []string{"configure", "deploy"}},
		},
	}

	plan, err := CompileTemplate(tpl)
	if err != nil {
		t.Fatalf("CompileTemplate failed: %v", err)
	}
	if plan.Nodes["configure"].EstimatedTokens != 1000 {
		t.Fatalf("expected configure estimated_tokens 1000, got %d", plan.Nodes["configure"].EstimatedTokens)
	}
	if plan.Nodes["deploy"].EstimatedTokens != 4000 {
		t.Fatalf("expected deploy to inherit defaults.estimated_tokens 4000, got %d", plan.Nodes["deploy"].EstimatedTokens)
	}
	if plan.Order[len(plan.Order)-1] != "verify" {
		t.Fatalf("expected 'verify' last, got order %v", plan.Order)
	}
}

func TestCompileTemplateDetectsCycle(t *testing.T) {
	tpl := &Template{
		Name: "cyclic",
		Nodes: []TemplateNode{
			{ID: "a", Description: "a", DependsOn: []string{"c"}},
			{ID: "b", Description: "b", DependsOn: []string{"a"}},
			{ID: "c", Description: "c", DependsOn: []string{"b"}},
		},
	}

	if _, err := CompileTemplate(tpl); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}
