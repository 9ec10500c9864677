package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/circuitbreaker"
)

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  true,
		Timestamp: startTime,
	}

	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		if lastErr := r.wrapper.LastError(); lastErr != nil {
			result.Details = map[string]interface{}{"last_error": lastErr.Error()}
		}
		return result
	}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}

	return result
}

// InferenceBackendHealthChecker checks reachability of the local
// model-inference endpoint (an Ollama-style HTTP server) by calling its
// tags endpoint, which responds without loading a model into memory.
type InferenceBackendHealthChecker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewInferenceBackendHealthChecker creates an inference-backend health checker.
func NewInferenceBackendHealthChecker(baseURL string, logger *zap.Logger) *InferenceBackendHealthChecker {
	timeout := 5 * time.Second
	return &InferenceBackendHealthChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		timeout: timeout,
	}
}

func (l *InferenceBackendHealthChecker) Name() string           { return "inference_backend" }
func (l *InferenceBackendHealthChecker) IsCritical() bool       { return false } // task execution can still queue while backend recovers
func (l *InferenceBackendHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *InferenceBackendHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "inference_backend",
		Critical:  false,
		Timestamp: startTime,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/tags", nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "failed to build inference backend health request"
		result.Duration = time.Since(startTime)
		return result
	}

	resp, err := l.client.Do(req)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "inference backend unreachable"
		result.Details = map[string]interface{}{
			"base_url":   l.baseURL,
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("inference backend returned %d", resp.StatusCode)
	} else if resp.StatusCode >= 400 || result.Duration > time.Second {
		result.Status = StatusDegraded
		result.Message = "inference backend responding with errors or high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "inference backend healthy"
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&tags)

	result.Details = map[string]interface{}{
		"base_url":    l.baseURL,
		"latency_ms":  result.Duration.Milliseconds(),
		"status_code": resp.StatusCode,
		"model_count": len(tags.Models),
	}

	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
