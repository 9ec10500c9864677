package personas

import "testing"

func TestSimilarityExactMatch(t *testing.T) {
	d := DNA{
		Role:          "engineer",
		Seniority:     "senior",
		Domain:        "development",
		Methodologies: []string{"tdd", "pairing"},
		Constraints:   map[string]string{"max_tokens": "4000"},
		OutputFormat:  map[string]string{"format": "markdown"},
	}
	req := Requirements(d)

	if score := Similarity(d, req); score != 1.0 {
		t.Fatalf("expected identical DNA to score 1.0, got %f", score)
	}
}

func TestSimilarityPartialMatch(t *testing.T) {
	d := DNA{
		Role:          "engineer",
		Seniority:     "senior",
		Domain:        "development",
		Methodologies: []string{"tdd", "pairing"},
	}
	req := Requirements{
		Role:          "engineer",
		Seniority:     "junior", // role matches, seniority doesn't -> 0.5 on that axis
		Domain:        "development",
		Methodologies: []string{"tdd"},
	}

	score := Similarity(d, req)
	// 0.35*0.5 + 0.25*1.0 + 0.20*(1/2) + 0.10*1 + 0.10*1 = 0.175+0.25+0.10+0.10+0.10
	want := 0.725
	if diff := score - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected score ~%f, got %f", want, score)
	}
}

func TestSimilarityDomainMismatchDropsScore(t *testing.T) {
	d := DNA{Role: "engineer", Seniority: "senior", Domain: "development"}
	req := Requirements{Role: "engineer", Seniority: "senior", Domain: "research"}

	score := Similarity(d, req)
	// Only the domain weight is lost; the unset requirement fields are "don't care":
	// 0.35*1 + 0.25*0 + 0.20*1 + 0.10*1 + 0.10*1
	want := 0.75
	if diff := score - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected domain mismatch to drop the score to ~%f, got %f", want, score)
	}
}

func TestConstraintsMatchByKeyNotValue(t *testing.T) {
	d := DNA{
		Role:      "engineer",
		Seniority: "senior",
		Domain:    "development",
		Constraints: map[string]string{
			"tone": "formal",
		},
	}
	req := Requirements{
		Role:      "engineer",
		Seniority: "senior",
		Domain:    "development",
		Constraints: map[string]string{
			"tone": "casual", // same key, different value
		},
	}

	score := Similarity(d, req)
	if score != 1.0 {
		t.Fatalf("expected key-only constraint match to score 1.0, got %f", score)
	}
}

func TestJaccardEmptyWantIsDontCare(t *testing.T) {
	if score := jaccard([]string{"a", "b"}, nil); score != 1.0 {
		t.Fatalf("expected empty want to score 1.0, got %f", score)
	}
}

func TestJaccardDisjointSets(t *testing.T) {
	if score := jaccard([]string{"a"}, []string{"b"}); score != 0.0 {
		t.Fatalf("expected disjoint sets to score 0, got %f", score)
	}
}

func TestSameDNAIgnoresMethodologyOrder(t *testing.T) {
	a := DNA{Role: "x", Seniority: "y", Domain: "z", Methodologies: []string{"a", "b"}}
	b := DNA{Role: "x", Seniority: "y", Domain: "z", Methodologies: []string{"b", "a"}}
	if !sameDNA(a, b) {
		t.Fatalf("expected DNA with reordered methodologies to be identical")
	}
}

func TestSameDNADiffersOnConstraintValue(t *testing.T) {
	a := DNA{Role: "x", Seniority: "y", Domain: "z", Constraints: map[string]string{"k": "1"}}
	b := DNA{Role: "x", Seniority: "y", Domain: "z", Constraints: map[string]string{"k": "2"}}
	if sameDNA(a, b) {
		t.Fatalf("expected differing constraint values to break identity")
	}
}
