package personas

import (
	"strings"

	"github.com/samber/lo"
)

// Similarity computes the weighted-DNA similarity between a candidate
// persona and a set of requirements, in [0,1]. The weights mirror how
// distinct the dimensions are as predictors of fit: role+seniority and
// domain dominate, methodology overlap matters less, and the two map-shaped
// dimensions (constraints, output format) matter least since they're often
// left unset.
func Similarity(d DNA, req Requirements) float64 {
	score := weightRoleSeniority*roleSeniorityScore(d, req) +
		weightDomain*equalScore(d.Domain, req.Domain) +
		weightMethodologies*jaccard(d.Methodologies, req.Methodologies) +
		weightConstraints*keySetJaccard(d.Constraints, req.Constraints) +
		weightOutputFormat*keyOverlap(d.OutputFormat, req.OutputFormat)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// roleSeniorityScore gives full credit for an exact role+seniority match,
// half credit for a role match at a different seniority, and none
// otherwise. An empty requirement field is treated as "don't care" and
// scores as a match on that sub-dimension.
func roleSeniorityScore(d DNA, req Requirements) float64 {
	roleMatch := req.Role == "" || strings.EqualFold(d.Role, req.Role)
	seniorityMatch := req.Seniority == "" || strings.EqualFold(d.Seniority, req.Seniority)
	switch {
	case roleMatch && seniorityMatch:
		return 1.0
	case roleMatch:
		return 0.5
	default:
		return 0.0
	}
}

func equalScore(a, b string) float64 {
	if b == "" || strings.EqualFold(a, b) {
		return 1.0
	}
	return 0.0
}

// normalizeSet case-folds, trims, and dedupes a string list so it can be
// compared as a set with lo's slice operations.
func normalizeSet(items []string) []string {
	return lo.Uniq(lo.Map(items, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	}))
}

// jaccard computes |intersection| / |union| over case-folded sets. An empty
// requirement set is "don't care" and scores 1.0.
func jaccard(have, want []string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	haveSet := normalizeSet(have)
	wantSet := normalizeSet(want)
	intersection := lo.Intersect(haveSet, wantSet)
	union := lo.Union(haveSet, wantSet)
	if len(union) == 0 {
		return 1.0
	}
	return float64(len(intersection)) / float64(len(union))
}

// keySetJaccard scores constraint overlap by key only, per the spec's
// "matching keys, not values" rule: two personas with differently-valued
// constraints under the same keys are still considered aligned.
func keySetJaccard(have, want map[string]string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	return jaccard(lo.Keys(have), lo.Keys(want))
}

// keyOverlap scores how many of want's keys are present in have with equal
// values, as a fraction of len(want). An empty want map is "don't care".
func keyOverlap(have, want map[string]string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	matched := 0
	for k, v := range want {
		if hv, ok := have[k]; ok && strings.EqualFold(hv, v) {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

// sameDNA reports whether two DNA values are identical for the purposes of
// collapse-on-insert. Unlike Similarity, this is an exact-identity check,
// not a weighted score.
func sameDNA(a, b DNA) bool {
	if !strings.EqualFold(a.Role, b.Role) ||
		!strings.EqualFold(a.Seniority, b.Seniority) ||
		!strings.EqualFold(a.Domain, b.Domain) {
		return false
	}
	if !sameStringSet(a.Methodologies, b.Methodologies) {
		return false
	}
	if !sameStringMap(a.Constraints, b.Constraints) {
		return false
	}
	if !sameStringMap(a.OutputFormat, b.OutputFormat) {
		return false
	}
	return true
}

func sameStringSet(a, b []string) bool {
	sa, sb := normalizeSet(a), normalizeSet(b)
	if len(sa) != len(sb) {
		return false
	}
	return lo.EveryBy(sa, func(k string) bool { return lo.Contains(sb, k) })
}

func sameStringMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || !strings.EqualFold(bv, v) {
			return false
		}
	}
	return true
}
