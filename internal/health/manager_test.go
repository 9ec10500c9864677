package health

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type stubChecker struct {
	name     string
	critical bool
	status   CheckStatus
}

func (s *stubChecker) Name() string           { return s.name }
func (s *stubChecker) IsCritical() bool       { return s.critical }
func (s *stubChecker) Timeout() time.Duration { return time.Second }
func (s *stubChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: s.status}
}

func TestRegisterCheckerRejectsDuplicateName(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	if err := m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}); err == nil {
		t.Fatal("expected error registering a duplicate checker name")
	}
}

func TestOverallHealthCriticalFailureNotReady(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	_ = m.RegisterChecker(&stubChecker{name: "redis", critical: true, status: StatusUnhealthy})
	_ = m.RegisterChecker(&stubChecker{name: "inference_backend", critical: false, status: StatusHealthy})

	overall := m.GetOverallHealth(context.Background())
	if overall.Ready {
		t.Error("expected Ready=false when a critical checker is unhealthy")
	}
	if overall.Status != StatusUnhealthy {
		t.Errorf("expected overall status unhealthy, got %s", overall.Status)
	}
}

func TestOverallHealthNonCriticalFailureStaysReady(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	_ = m.RegisterChecker(&stubChecker{name: "redis", critical: true, status: StatusHealthy})
	_ = m.RegisterChecker(&stubChecker{name: "inference_backend", critical: false, status: StatusUnhealthy})

	overall := m.GetOverallHealth(context.Background())
	if !overall.Ready {
		t.Error("expected Ready=true when only a non-critical checker is unhealthy, per spec scenario 3")
	}
	if overall.Status != StatusDegraded {
		t.Errorf("expected overall status degraded, got %s", overall.Status)
	}
}

func TestOverallHealthEmptyIsUnknown(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	overall := m.GetOverallHealth(context.Background())
	if overall.Status != StatusUnknown || overall.Ready {
		t.Errorf("expected unknown/not-ready with no checkers registered, got %+v", overall)
	}
}

func TestDetailedHealthSummaryCounts(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	_ = m.RegisterChecker(&stubChecker{name: "redis", critical: true, status: StatusHealthy})
	_ = m.RegisterChecker(&stubChecker{name: "inference_backend", critical: false, status: StatusDegraded})

	detailed := m.GetDetailedHealth(context.Background())
	if detailed.Summary.Total != 2 || detailed.Summary.Healthy != 1 || detailed.Summary.Degraded != 1 {
		t.Errorf("unexpected summary: %+v", detailed.Summary)
	}
	if detailed.Summary.Critical != 1 || detailed.Summary.NonCritical != 1 {
		t.Errorf("unexpected critical split: %+v", detailed.Summary)
	}
}

func TestGetLastResultsReflectsMostRecentCheck(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	_ = m.RegisterChecker(&stubChecker{name: "redis", critical: true, status: StatusHealthy})

	if len(m.GetLastResults()) != 0 {
		t.Fatal("expected no cached results before any check has run")
	}
	m.GetDetailedHealth(context.Background())

	results := m.GetLastResults()
	if results["redis"].Status != StatusHealthy {
		t.Errorf("expected cached redis result to be healthy, got %+v", results["redis"])
	}
}

func TestStartStopIdempotent(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}
