// Package optimizer implements the Delegation Optimizer: it feeds scored
// outcomes back into the Persona Store's exponential-moving-average success
// score, and recommends a proven persona for a domain/role before the
// orchestrator falls back to a fresh DNA match.
package optimizer

import (
	"sort"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/personas"
)

// minRecommendUses is the minimum number of recorded uses a persona needs
// before it is trusted as a recommendation rather than requiring a fresh
// match.
const minRecommendUses = 3

// Store is the subset of the Persona Store the optimizer depends on.
type Store interface {
	List(filter personas.Filter) []*personas.Persona
	RecordUse(id string, successScore float64) error
}

// Optimizer updates persona success scores from evaluated outcomes and
// recommends previously-successful personas for new work.
type Optimizer struct {
	store  Store
	logger *zap.Logger
}

// New creates an Optimizer backed by store.
func New(store Store, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{store: store, logger: logger}
}

// RecordOutcome feeds a subtask's overall outcome score into the EMA the
// Persona Store maintains for personaID.
func (o *Optimizer) RecordOutcome(personaID string, overallScore float64) error {
	if err := o.store.RecordUse(personaID, overallScore); err != nil {
		return err
	}
	o.logger.Debug("recorded persona outcome",
		zap.String("persona_id", personaID),
		zap.Float64("score", overallScore))
	return nil
}

// Recommend returns the id of the highest-scoring persona matching domain
// and, if set, roleHint, among personas used at least minRecommendUses
// times. It returns ok=false when no persona qualifies, signaling the
// orchestrator to ask the Persona Store for a fresh DNA match instead.
func (o *Optimizer) Recommend(domain, roleHint string) (string, bool) {
	candidates := o.store.List(personas.Filter{Domain: domain, Role: roleHint})

	var eligible []*personas.Persona
	for _, p := range candidates {
		if p.UsageCount >= minRecommendUses {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].SuccessScore != eligible[j].SuccessScore {
			return eligible[i].SuccessScore > eligible[j].SuccessScore
		}
		return eligible[i].LastUsedAt.After(eligible[j].LastUsedAt)
	})
	return eligible[0].ID, true
}
