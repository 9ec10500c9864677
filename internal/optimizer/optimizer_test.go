package optimizer

import (
	"testing"
	"time"

	"github.com/taskmesh/orchestrator/internal/personas"
)

type fakeStore struct {
	list    []*personas.Persona
	recorded map[string]float64
}

func (f *fakeStore) List(filter personas.Filter) []*personas.Persona {
	var out []*personas.Persona
	for _, p := range f.list {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeStore) RecordUse(id string, successScore float64) error {
	if f.recorded == nil {
		f.recorded = make(map[string]float64)
	}
	f.recorded[id] = successScore
	return nil
}

func TestRecommendRequiresMinimumUses(t *testing.T) {
	store := &fakeStore{list: []*personas.Persona{
		{ID: "p1", Domain: "development", UsageCount: 2, SuccessScore: 0.9},
	}}
	opt := New(store, nil)

	if _, ok := opt.Recommend("development", ""); ok {
		t.Fatalf("expected no recommendation below the minimum use threshold")
	}
}

func TestRecommendPicksHighestScore(t *testing.T) {
	store := &fakeStore{list: []*personas.Persona{
		{ID: "low", Domain: "development", UsageCount: 5, SuccessScore: 0.4},
		{ID: "high", Domain: "development", UsageCount: 3, SuccessScore: 0.8},
	}}
	opt := New(store, nil)

	id, ok := opt.Recommend("development", "")
	if !ok {
		t.Fatalf("expected a recommendation")
	}
	if id != "high" {
		t.Fatalf("expected high-scoring persona to win, got %s", id)
	}
}

func TestRecommendTieBreaksByRecency(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := &fakeStore{list: []*personas.Persona{
		{ID: "older", Domain: "research", UsageCount: 3, SuccessScore: 0.7, LastUsedAt: now.Add(-time.Hour)},
		{ID: "newer", Domain: "research", UsageCount: 3, SuccessScore: 0.7, LastUsedAt: now},
	}}
	opt := New(store, nil)

	id, ok := opt.Recommend("research", "")
	if !ok || id != "newer" {
		t.Fatalf("expected tie to be broken by recency in favor of 'newer', got %s (ok=%v)", id, ok)
	}
}

func TestRecordOutcomeDelegatesToStore(t *testing.T) {
	store := &fakeStore{}
	opt := New(store, nil)

	if err := opt.RecordOutcome("p1", 0.85); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if store.recorded["p1"] != 0.85 {
		t.Fatalf("expected score to be recorded, got %v", store.recorded)
	}
}
