package personas

import "time"

// Persona is a reusable agent configuration identified by its DNA: the
// five-element tuple that determines what work it is suited for. Two
// personas with identical DNA are the same persona — Store.Insert collapses
// them into a single record rather than creating a duplicate.
type Persona struct {
	ID string `json:"id" yaml:"id"`

	// DNA. Identity lives here; everything else is metadata about usage.
	Role          string            `json:"role" yaml:"role"`
	Seniority     string            `json:"seniority" yaml:"seniority"` // junior/mid/senior/principal
	Domain        string            `json:"domain" yaml:"domain"`
	Methodologies []string          `json:"methodologies" yaml:"methodologies"` // order-insensitive for matching
	Constraints   map[string]string `json:"constraints" yaml:"constraints"`     // e.g. max_tokens, tone
	OutputFormat  map[string]string `json:"output_format" yaml:"output_format"` // e.g. format: markdown, sections: true

	// Metadata.
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UsageCount   int       `json:"usage_count" yaml:"usage_count"`
	SuccessScore float64   `json:"success_score" yaml:"success_score"` // EMA in [0,1]
	LastUsedAt   time.Time `json:"last_used_at" yaml:"last_used_at"`
}

// DNA is the identity-bearing subset of a Persona, used both for
// collapse-on-insert comparisons and as the input to match scoring.
type DNA struct {
	Role          string
	Seniority     string
	Domain        string
	Methodologies []string
	Constraints   map[string]string
	OutputFormat  map[string]string
}

// DNA extracts the identity fields of p.
func (p *Persona) DNA() DNA {
	return DNA{
		Role:          p.Role,
		Seniority:     p.Seniority,
		Domain:        p.Domain,
		Methodologies: p.Methodologies,
		Constraints:   p.Constraints,
		OutputFormat:  p.OutputFormat,
	}
}

// Requirements describes what a caller is looking for in a persona. It
// shares DNA's shape so matching is symmetric.
type Requirements DNA

// Filter narrows List() results. A zero-value field means "don't filter on
// this dimension".
type Filter struct {
	Domain string
	Role   string
}

// Matches reports whether p satisfies f.
func (f Filter) Matches(p *Persona) bool {
	if f.Domain != "" && f.Domain != p.Domain {
		return false
	}
	if f.Role != "" && f.Role != p.Role {
		return false
	}
	return true
}

// MatchThreshold is the minimum weighted-DNA similarity required for a
// match to be reused rather than signaling the caller to create a new
// persona.
const MatchThreshold = 0.7

// Match weights, summing to 1.0.
const (
	weightRoleSeniority = 0.35
	weightDomain        = 0.25
	weightMethodologies = 0.20
	weightConstraints   = 0.10
	weightOutputFormat  = 0.10
)
