package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker so that a
// misbehaving Redis instance degrades short-term memory persistence
// instead of blocking callers.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with a circuit breaker scoped
// to service (e.g. "short-term-memory").
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", GetRedisConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{
		client:  client,
		cb:      cb,
		service: service,
		logger:  logger,
	}
}

func (rw *RedisWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), success)
}

// Ping wraps Redis Ping with circuit breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
	rw.record(err == nil)
	return err
}

// Get wraps Redis Get with circuit breaker; redis.Nil is not a breaker failure.
func (rw *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := rw.cb.Execute(ctx, func() error {
		var innerErr error
		val, innerErr = rw.client.Get(ctx, key).Result()
		if innerErr == redis.Nil {
			return nil
		}
		return innerErr
	})
	rw.record(err == nil)
	if err != nil {
		return "", err
	}
	if val == "" {
		return "", redis.Nil
	}
	return val, nil
}

// Set wraps Redis Set with circuit breaker.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Set(ctx, key, value, expiration).Err()
	})
	rw.record(err == nil)
	return err
}

// Del wraps Redis Del with circuit breaker.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Del(ctx, keys...).Err()
	})
	rw.record(err == nil)
	return err
}

// Close wraps Redis Close.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// RawClient returns the underlying Redis client for commands this
// wrapper does not wrap; calls made through it bypass the breaker.
func (rw *RedisWrapper) RawClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}

// LastError returns the most recent error returned by a Redis call made
// through this wrapper's breaker, if any. Calls the breaker rejects
// without running are not recorded.
func (rw *RedisWrapper) LastError() error {
	return rw.cb.LastError()
}
