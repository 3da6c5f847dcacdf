// Package resilience provides retry and endpoint-health patterns for the
// upstream data services the extractor pulls from.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	// A value of 1 disables retries. Default: 3.
	Attempts int

	// BaseDelay is the sleep before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 20s.
	MaxDelay time.Duration

	// Growth scales the delay after each attempt. Default: 2.0.
	Growth float64

	// Jitter randomizes each delay by ±Jitter fraction. Default: 0.25.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// If nil, IsTransient is used.
	Retryable func(err error) bool

	// OnAttempt runs before each retry sleep with the attempt number and error.
	OnAttempt func(attempt int, err error)
}

// DefaultPolicy returns the retry policy used for upstream fetches.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  20 * time.Second,
		Growth:    2.0,
		Jitter:    0.25,
	}
}

// Do runs fn under the policy, retrying transient failures. Context
// cancellation stops the loop immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = withDefaults(p)

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !retryable(lastErr) {
			return zero, lastErr
		}
		if attempt >= p.Attempts-1 {
			break
		}

		if p.OnAttempt != nil {
			p.OnAttempt(attempt+1, lastErr)
		}

		timer := time.NewTimer(backoff(attempt, p))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func withDefaults(p Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 20 * time.Second
	}
	if p.Growth <= 0 {
		p.Growth = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

func backoff(attempt int, p Policy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Growth, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// LogAttempts returns an OnAttempt callback that logs retries for a source.
func LogAttempts(source, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying upstream call",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
