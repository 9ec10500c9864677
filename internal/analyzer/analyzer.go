// Package analyzer implements the Task Analyzer: a pure, deterministic
// function from task text to a complexity class and a set of domain tags.
// It does no I/O and holds no state, the way the teacher's AnalyzeComplexity
// shim is a thin, side-effect-free delegation rather than a stateful
// workflow activity.
package analyzer

import "strings"

// Complexity classes.
const (
	Simple  = "simple"
	Medium  = "medium"
	Complex = "complex"
)

// Domains is the closed vocabulary domain tags are drawn from.
var Domains = []string{"development", "devops", "data", "research", "design", "testing", "security", "other"}

// actionVerbs each add 1 to the complexity score when present.
var actionVerbs = []string{
	"build", "deploy", "integrate", "refactor", "migrate", "design",
	"implement", "develop", "analyze", "research", "optimize", "test",
	"configure", "provision", "secure", "audit",
}

// multiplicityMarkers each add 1 to the complexity score when present.
var multiplicityMarkers = []string{"and then", "afterwards", "following that"}

var domainKeywords = map[string][]string{
	"development": {"code", "implement", "build", "develop", "feature", "api", "function", "refactor"},
	"devops":      {"deploy", "provision", "infrastructure", "pipeline", "ci/cd", "kubernetes", "docker", "container"},
	"data":        {"data", "dataset", "etl", "pipeline", "database", "query", "analytics", "warehouse"},
	"research":    {"research", "investigate", "survey", "literature", "explore", "study"},
	"design":      {"design", "mockup", "wireframe", "ux", "ui", "prototype", "layout"},
	"testing":     {"test", "qa", "verify", "validate", "regression", "coverage"},
	"security":    {"security", "audit", "vulnerability", "secure", "threat", "penetration", "compliance"},
}

// Analysis is the result of analyzing a task.
type Analysis struct {
	Complexity            string   `json:"complexity"`
	Domains               []string `json:"domains"`
	RequiresDecomposition bool     `json:"requires_decomposition"`
	Score                 int      `json:"score"`
}

// Analyze scores task text for complexity and tags it with domains. It is
// pure and deterministic: the same text and context always produce the
// same Analysis.
func Analyze(text string, context map[string]string) Analysis {
	score := complexityScore(text)
	complexity := classifyComplexity(score)

	return Analysis{
		Complexity:            complexity,
		Domains:               classifyDomains(text),
		RequiresDecomposition: complexity != Simple,
		Score:                 score,
	}
}

func complexityScore(text string) int {
	score := 0
	lower := strings.ToLower(text)

	// Token length: every 15 words adds one point, reflecting that longer
	// requests tend to bundle more sub-goals.
	words := strings.Fields(text)
	score += len(words) / 15

	score += countConjunctions(lower)

	for _, verb := range actionVerbs {
		if containsWord(lower, verb) {
			score++
		}
	}

	for _, marker := range multiplicityMarkers {
		if strings.Contains(lower, marker) {
			score++
		}
	}

	if hasNumberedList(text) {
		score++
	}

	return score
}

// countConjunctions counts "and"/"then" occurrences that join clauses,
// each counted once toward the complexity score.
func countConjunctions(lower string) int {
	count := 0
	count += strings.Count(lower, " and ")
	count += strings.Count(lower, " then ")
	return count
}

func containsWord(lower, word string) bool {
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if w == word {
			return true
		}
	}
	return false
}

// hasNumberedList reports whether text contains a marker like "1." or "2)"
// indicating an explicit enumerated list of steps.
func hasNumberedList(text string) bool {
	for i := 0; i < len(text)-1; i++ {
		if text[i] >= '1' && text[i] <= '9' && (text[i+1] == '.' || text[i+1] == ')') {
			return true
		}
	}
	return false
}

func classifyComplexity(score int) string {
	switch {
	case score <= 2:
		return Simple
	case score <= 5:
		return Medium
	default:
		return Complex
	}
}

func classifyDomains(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, domain := range Domains[:len(Domains)-1] { // exclude "other"
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(lower, kw) {
				matched = append(matched, domain)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"other"}
	}
	return matched
}
