package ratecontrol

import (
	"context"

	"golang.org/x/time/rate"
)

// Semaphore bounds how many inference calls run concurrently across every
// stage dispatch that shares it (cmd/orchestratord builds one for the
// whole process). A buffered channel caps concurrency; an x/time/rate limiter smooths the
// admission rate so a burst of subtasks doesn't all acquire in the same
// instant.
type Semaphore struct {
	slots   chan struct{}
	limiter *rate.Limiter
}

// DefaultConcurrency is the default number of subtasks dispatched at once
// within a stage when no override is configured.
const DefaultConcurrency = 4

// NewSemaphore creates a semaphore allowing at most max concurrent
// acquisitions, admitted at up to ratePerSecond per second. A
// ratePerSecond of zero disables rate limiting and leaves only the
// concurrency cap.
func NewSemaphore(max int, ratePerSecond float64) *Semaphore {
	if max <= 0 {
		max = DefaultConcurrency
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), max)
	}
	return &Semaphore{slots: make(chan struct{}, max), limiter: limiter}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// Capacity returns the configured concurrency cap.
func (s *Semaphore) Capacity() int {
	return cap(s.slots)
}
