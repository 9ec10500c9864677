package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// checkerState pairs a registered Checker with the bookkeeping the
// background loop needs to know when it last ran.
type checkerState struct {
	checker   Checker
	critical  bool
	timeout   time.Duration
	lastCheck time.Time
}

// Manager tracks every dependency Checker the orchestrator process
// registers at startup (cmd/orchestratord registers only the inference
// backend; RedisHealthChecker is not registered there) and answers
// liveness, readiness, and detailed health queries against their latest
// results.
type Manager struct {
	checkers      map[string]*checkerState
	lastResults   map[string]CheckResult
	checkInterval time.Duration
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewManager creates a Manager with a 30s background check interval.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers:      make(map[string]*checkerState),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker registers a dependency check. Registering the same name
// twice is an error — the orchestrator registers each dependency exactly
// once during wiring.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	m.checkers[name] = &checkerState{
		checker:  checker,
		critical: checker.IsCritical(),
		timeout:  checker.Timeout(),
	}
	m.logger.Info("health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// GetOverallHealth returns the process-level verdict.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every registered checker and folds the results
// into a summary plus a per-component breakdown.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	states := make(map[string]*checkerState, len(m.checkers))
	for name, s := range m.checkers {
		states[name] = s
	}
	m.mu.RUnlock()

	timestamp := time.Now()
	components := make(map[string]CheckResult, len(states))
	summary := HealthSummary{Total: len(states)}

	for name, s := range states {
		result := m.runCheck(ctx, s)
		components[name] = result

		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	return DetailedHealth{
		Overall:    calculateOverallStatus(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  timestamp,
	}
}

// runCheck executes one checker under its own timeout and stamps the
// result with the fields the checker itself doesn't set.
func (m *Manager) runCheck(ctx context.Context, s *checkerState) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result := s.checker.Check(checkCtx)
	result.Component = s.checker.Name()
	result.Critical = s.critical
	result.Duration = time.Since(start)
	result.Timestamp = start

	m.mu.Lock()
	s.lastCheck = start
	m.mu.Unlock()

	return result
}

// calculateOverallStatus folds per-component results into one verdict. A
// critical dependency failing makes the process unhealthy (not ready);
// anything else failing only degrades it — the inference backend is
// registered non-critical so an outage there doesn't take /health/ready
// down with it, per spec scenario 3.
func calculateOverallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{Status: StatusUnknown, Message: "no health checks registered", Ready: false, Live: false}
	}

	var criticalFailures, nonCriticalFailures, degraded int
	for _, result := range components {
		switch {
		case result.Status == StatusDegraded:
			degraded++
		case result.Status == StatusUnhealthy && result.Critical:
			criticalFailures++
		case result.Status == StatusUnhealthy:
			nonCriticalFailures++
		}
	}

	var status CheckStatus
	var message string
	ready, live := true, true

	switch {
	case criticalFailures > 0:
		status = StatusUnhealthy
		message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		ready = false
	case degraded > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d component(s) degraded", degraded)
	case nonCriticalFailures > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	default:
		status = StatusHealthy
		message = fmt.Sprintf("all %d components healthy", summary.Total)
	}

	return OverallHealth{Status: status, Message: message, Degraded: status == StatusDegraded, Ready: ready, Live: live}
}

// IsReady reports whether the process should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports whether the process is alive, for liveness probes.
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Live
}

// Start begins the background check loop, refreshing lastResults every
// checkInterval so GetLastResults can answer without blocking on a live
// inference-backend round trip.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	go m.backgroundLoop()
	m.logger.Info("health manager started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop halts the background check loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("health manager stopped")
	return nil
}

func (m *Manager) backgroundLoop() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.GetDetailedHealth(context.Background())
		}
	}
}

// GetLastResults returns the most recently observed result per checker
// without triggering a fresh round of checks, for the detailed endpoint's
// cached=true query.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		results[name] = result
	}
	return results
}
