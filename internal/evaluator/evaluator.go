// Package evaluator implements the Outcome Evaluator: a deterministic,
// LLM-free rubric that scores a finished subtask on quality, completeness,
// and success, the way the teacher's coverage evaluator blends keyword
// coverage with hard guardrails rather than trusting a model's self-report.
package evaluator

import (
	"strings"
)

// Weights for the overall score, per the spec's 0.4/0.3/0.3 split.
const (
	weightQuality      = 0.4
	weightCompleteness = 0.3
	weightSuccess      = 0.3
)

// Outcome is the subtask evaluation result.
type Outcome struct {
	Quality      float64 `json:"quality"`
	Completeness float64 `json:"completeness"`
	Success      float64 `json:"success"`
	Overall      float64 `json:"overall"`
}

// Input bundles what the evaluator needs about a finished subtask.
type Input struct {
	Description  string            // the subtask description, for keyword coverage
	Output       string            // the agent's raw output
	OutputFormat map[string]string // persona's requested output format, e.g. {"format": "markdown"}
	Completed    bool              // whether the subtask reached the completed state
}

// Evaluate scores a finished subtask. It is a pure function: no I/O, fully
// deterministic given its inputs.
func Evaluate(in Input) Outcome {
	quality := qualityScore(in.Output, in.OutputFormat)
	completeness := completenessScore(in.Description, in.Output)
	success := 0.0
	if in.Completed {
		success = 1.0
	}

	overall := weightQuality*quality + weightCompleteness*completeness + weightSuccess*success
	return Outcome{
		Quality:      quality,
		Completeness: completeness,
		Success:      success,
		Overall:      clamp01(overall),
	}
}

// qualityScore checks whether the output plausibly conforms to the
// requested output format. With no format requested, any non-empty output
// is full credit.
func qualityScore(output string, format map[string]string) float64 {
	if strings.TrimSpace(output) == "" {
		return 0.0
	}
	want, ok := format["format"]
	if !ok || want == "" {
		return 1.0
	}

	switch strings.ToLower(want) {
	case "markdown":
		if containsMarkdownStructure(output) {
			return 1.0
		}
		return 0.6 // plain prose still partially satisfies a markdown request
	case "json":
		if looksLikeJSON(output) {
			return 1.0
		}
		return 0.0
	default:
		return 1.0
	}
}

func containsMarkdownStructure(s string) bool {
	markers := []string{"#", "- ", "* ", "```", "1. "}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

// completenessScore estimates how much of the subtask description's
// distinctive vocabulary shows up in the output — a rubric of keyword
// coverage, per the spec.
func completenessScore(description, output string) float64 {
	keywords := significantWords(description)
	if len(keywords) == 0 {
		return 1.0
	}

	lowerOutput := strings.ToLower(output)
	covered := 0
	for _, kw := range keywords {
		if strings.Contains(lowerOutput, kw) {
			covered++
		}
	}
	return float64(covered) / float64(len(keywords))
}

// significantWords extracts lowercase, deduplicated words of length > 3
// from text, skipping common stop words that carry no topical signal.
func significantWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := make(map[string]bool)
	var words []string
	for _, w := range fields {
		if len(w) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "into": true,
	"have": true, "will": true, "should": true, "must": true, "then": true,
	"each": true, "also": true, "than": true, "when": true, "what": true,
	"which": true, "these": true, "those": true, "about": true, "your": true,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
