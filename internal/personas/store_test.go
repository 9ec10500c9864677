package personas

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.store")
	store, err := NewStore(path, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreInsertAndMatch(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Insert(Persona{
		Role:      "engineer",
		Seniority: "senior",
		Domain:    "development",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p, score, ok := store.Match(Requirements{Role: "engineer", Seniority: "senior", Domain: "development"})
	if !ok {
		t.Fatalf("expected a match, got none (score %f)", score)
	}
	if p.ID != id {
		t.Fatalf("expected match id %s, got %s", id, p.ID)
	}
}

func TestStoreMatchBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Insert(Persona{Role: "engineer", Seniority: "senior", Domain: "development"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, _, ok := store.Match(Requirements{Role: "researcher", Seniority: "principal", Domain: "research"})
	if ok {
		t.Fatalf("expected no match for an unrelated requirement set")
	}
}

func TestStoreInsertCollapsesIdenticalDNA(t *testing.T) {
	store := newTestStore(t)

	dna := Persona{
		Role:          "engineer",
		Seniority:     "senior",
		Domain:        "development",
		Methodologies: []string{"tdd"},
	}
	id1, err := store.Insert(dna)
	if err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	id2, err := store.Insert(dna)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical DNA to collapse to one id, got %s and %s", id1, id2)
	}
	if store.Size() != 1 {
		t.Fatalf("expected store size 1 after collapse, got %d", store.Size())
	}
}

func TestStoreRecordUseAppliesEMA(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Insert(Persona{Role: "engineer", Seniority: "senior", Domain: "development"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := store.RecordUse(id, 1.0); err != nil {
		t.Fatalf("first RecordUse: %v", err)
	}
	p, _ := store.Get(id)
	if p.SuccessScore != 1.0 {
		t.Fatalf("expected first use to set score to observed value, got %f", p.SuccessScore)
	}

	if err := store.RecordUse(id, 0.0); err != nil {
		t.Fatalf("second RecordUse: %v", err)
	}
	p, _ = store.Get(id)
	want := 0.2*0.0 + 0.8*1.0
	if p.SuccessScore != want {
		t.Fatalf("expected EMA score %f, got %f", want, p.SuccessScore)
	}
	if p.UsageCount != 2 {
		t.Fatalf("expected usage count 2, got %d", p.UsageCount)
	}
}

func TestStoreDeleteThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.store")
	store, err := NewStore(path, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	id, err := store.Insert(Persona{Role: "engineer", Seniority: "senior", Domain: "development"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	store.Close()

	reopened, err := NewStore(path, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	defer reopened.Close()

	if _, ok := reopened.Get(id); ok {
		t.Fatalf("expected deleted persona to stay deleted across reload")
	}
}

func TestStoreListFiltersByDomain(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Insert(Persona{Role: "engineer", Domain: "development"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Insert(Persona{Role: "analyst", Domain: "research"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	result := store.List(Filter{Domain: "research"})
	if len(result) != 1 || result[0].Role != "analyst" {
		t.Fatalf("expected one research persona, got %+v", result)
	}
}
