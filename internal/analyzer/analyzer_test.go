package analyzer

import "testing"

func TestAnalyzeSimpleTaskIsSimple(t *testing.T) {
	out := Analyze("fix the typo in the readme", nil)
	if out.Complexity != Simple {
		t.Fatalf("expected simple complexity, got %s (score %d)", out.Complexity, out.Score)
	}
	if out.RequiresDecomposition {
		t.Fatalf("simple tasks should not require decomposition")
	}
}

func TestAnalyzeComplexTaskWithMultipleVerbsAndSteps(t *testing.T) {
	text := "Build the service and then deploy it, integrate it with the payment gateway, " +
		"migrate the database, and refactor the legacy client. 1. design the schema 2. write tests"
	out := Analyze(text, nil)
	if out.Complexity != Complex {
		t.Fatalf("expected complex complexity, got %s (score %d)", out.Complexity, out.Score)
	}
	if !out.RequiresDecomposition {
		t.Fatalf("complex tasks must require decomposition")
	}
}

func TestAnalyzeMediumTask(t *testing.T) {
	text := "design the new onboarding flow and build a prototype"
	out := Analyze(text, nil)
	if out.Complexity != Medium {
		t.Fatalf("expected medium complexity, got %s (score %d)", out.Complexity, out.Score)
	}
	if !out.RequiresDecomposition {
		t.Fatalf("medium tasks require decomposition")
	}
}

func TestAnalyzeDomainTaggingMultipleDomains(t *testing.T) {
	out := Analyze("write tests for the new api endpoint and fix the feature", nil)
	hasDevelopment, hasTesting := false, false
	for _, d := range out.Domains {
		if d == "development" {
			hasDevelopment = true
		}
		if d == "testing" {
			hasTesting = true
		}
	}
	if !hasDevelopment || !hasTesting {
		t.Fatalf("expected development+testing domains, got %v", out.Domains)
	}
}

func TestAnalyzeDomainTaggingEmptyResolvesToOther(t *testing.T) {
	out := Analyze("please help me think about my day", nil)
	if len(out.Domains) != 1 || out.Domains[0] != "other" {
		t.Fatalf("expected [other] for unclassifiable text, got %v", out.Domains)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	text := "deploy the security patch and audit the logs"
	a := Analyze(text, nil)
	b := Analyze(text, nil)
	if a.Complexity != b.Complexity || a.Score != b.Score || a.RequiresDecomposition != b.RequiresDecomposition {
		t.Fatalf("expected deterministic output, got %+v vs %+v", a, b)
	}
}
