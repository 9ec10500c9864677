package evaluator

import "testing"

func TestEvaluateFailedSubtaskZeroSuccess(t *testing.T) {
	out := Evaluate(Input{
		Description: "write a summary of the findings",
		Output:      "some text",
		Completed:   false,
	})
	if out.Success != 0.0 {
		t.Fatalf("expected success 0 for a failed subtask, got %f", out.Success)
	}
}

func TestEvaluateEmptyOutputZeroQuality(t *testing.T) {
	out := Evaluate(Input{Description: "summarize", Output: "", Completed: true})
	if out.Quality != 0.0 {
		t.Fatalf("expected quality 0 for empty output, got %f", out.Quality)
	}
}

func TestEvaluateMarkdownFormatConformance(t *testing.T) {
	out := Evaluate(Input{
		Description:  "list the steps",
		Output:       "# Steps\n- one\n- two",
		OutputFormat: map[string]string{"format": "markdown"},
		Completed:    true,
	})
	if out.Quality != 1.0 {
		t.Fatalf("expected full quality credit for markdown structure, got %f", out.Quality)
	}
}

func TestEvaluateCompletenessCoversKeywords(t *testing.T) {
	out := Evaluate(Input{
		Description: "research the competitor pricing strategy",
		Output:      "this research document covers competitor pricing strategy in depth",
		Completed:   true,
	})
	if out.Completeness != 1.0 {
		t.Fatalf("expected full completeness when all keywords covered, got %f", out.Completeness)
	}
}

func TestEvaluateCompletenessPartialCoverage(t *testing.T) {
	out := Evaluate(Input{
		Description: "research competitor pricing and market share",
		Output:      "this covers competitor pricing only",
		Completed:   true,
	})
	if out.Completeness <= 0 || out.Completeness >= 1 {
		t.Fatalf("expected partial completeness, got %f", out.Completeness)
	}
}

func TestEvaluateOverallWeighting(t *testing.T) {
	out := Evaluate(Input{
		Description: "short",
		Output:      "some text that is non-empty",
		Completed:   true,
	})
	want := weightQuality*out.Quality + weightCompleteness*out.Completeness + weightSuccess*out.Success
	if out.Overall != want {
		t.Fatalf("expected overall %f, got %f", want, out.Overall)
	}
}
