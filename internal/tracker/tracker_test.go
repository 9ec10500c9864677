package tracker

import "testing"

func newSeededTracker() *Tracker {
	tr := New()
	tr.Create(Plan{TaskID: "t1", Subtasks: []SubtaskSeed{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}})
	return tr
}

func TestTransitionHappyPath(t *testing.T) {
	tr := newSeededTracker()
	if err := tr.Transition("t1", "a", Assigned, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Transition("t1", "a", InProgress, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Transition("t1", "a", Completed, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, ok := tr.Get("t1")
	if !ok {
		t.Fatalf("expected task to exist")
	}
	if records[0].State != Completed {
		t.Fatalf("expected subtask a to be completed, got %s", records[0].State)
	}
}

func TestTransitionRejectsSkippingStates(t *testing.T) {
	tr := newSeededTracker()
	err := tr.Transition("t1", "a", InProgress, "")
	if err == nil {
		t.Fatalf("expected an illegal transition error")
	}
	if _, ok := err.(*IllegalTransitionError); !ok {
		t.Fatalf("expected *IllegalTransitionError, got %T", err)
	}
}

func TestAssignedRequiresPrerequisitesCompleted(t *testing.T) {
	tr := newSeededTracker()
	err := tr.Transition("t1", "b", Assigned, "")
	if err == nil {
		t.Fatalf("expected error: b depends on a which is not completed")
	}

	tr.Transition("t1", "a", Assigned, "")
	tr.Transition("t1", "a", InProgress, "")
	tr.Transition("t1", "a", Completed, "")

	if err := tr.Transition("t1", "b", Assigned, ""); err != nil {
		t.Fatalf("expected b to be assignable once a completed: %v", err)
	}
}

func TestOverallProgress(t *testing.T) {
	tr := newSeededTracker()
	if p := tr.OverallProgress("t1"); p != 0 {
		t.Fatalf("expected 0 progress initially, got %f", p)
	}

	tr.Transition("t1", "a", Assigned, "")
	tr.Transition("t1", "a", InProgress, "")
	tr.Transition("t1", "a", Failed, "boom")

	if p := tr.OverallProgress("t1"); p != 0.5 {
		t.Fatalf("expected progress 0.5 with one of two subtasks terminal, got %f", p)
	}
}

func TestListByState(t *testing.T) {
	tr := newSeededTracker()
	tr.Transition("t1", "a", Assigned, "")

	assigned := tr.ListByState(Assigned)
	if len(assigned) != 1 || assigned[0].ID != "a" {
		t.Fatalf("expected subtask a listed as assigned, got %v", assigned)
	}
}
