//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package retry wraps external calls with a hard per-attempt timeout and a
// bounded exponential backoff with jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Condition determines whether an error is retryable.
type Condition interface {
	Match(err error) bool
}

// ConditionFunc is an adapter to allow the use of ordinary functions as Condition.
type ConditionFunc func(error) bool

// Match calls f(err).
func (f ConditionFunc) Match(err error) bool { return f(err) }

// Policy defines a retry configuration.
// Attempts are counted inclusive of the first try. For example,
// MaxAttempts=3 means 1 initial try + up to 2 retries.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	// RetryOn lists the conditions under which an error is retried.
	// Empty means DefaultCondition.
	RetryOn []Condition

	// Optional total time budget across retries; 0 to disable.
	MaxElapsedTime time.Duration
	// Optional hard timeout applied to every attempt; 0 to disable.
	PerAttemptTimeout time.Duration
}

// NoRetry is a single-attempt policy.
var NoRetry = Policy{MaxAttempts: 1}

// Simple returns a policy with the given attempts and the default backoff:
// initial=500ms, factor=2.0, max=8s, jitter=true.
func Simple(attempts int) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     8 * time.Second,
		Jitter:          true,
	}
}

// WithTimeout returns a copy of the policy with the per-attempt timeout set.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.PerAttemptTimeout = d
	return p
}

// NextDelay returns the backoff delay after the given attempt number.
// attempt starts at 1 for the first try.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	delay := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))
	maxInt := p.MaxInterval
	if maxInt <= 0 {
		maxInt = p.InitialInterval
	}
	if maxInt > 0 {
		delay = math.Min(delay, float64(maxInt))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// Additive jitter in [0, d). crypto/rand keeps gosec quiet.
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry reports whether err matches any of the policy's conditions.
func (p Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryOn) == 0 {
		return IsRetryable(err)
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn under the policy. Non-retryable errors are returned immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn under the policy and returns its value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := runAttempt(ctx, p.PerAttemptTimeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.ShouldRetry(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		delay := p.NextDelay(attempt)
		if p.MaxElapsedTime > 0 && time.Since(start)+delay > p.MaxElapsedTime {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func runAttempt[T any](
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- outcome{v: v, err: err}
	}()
	select {
	case o := <-done:
		return o.v, o.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{After: timeout}
	}
}

// TimeoutError reports an attempt that exceeded the per-attempt timeout.
type TimeoutError struct {
	After time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// Timeout marks the error as a timeout for IsRetryable.
func (e *TimeoutError) Timeout() bool { return true }

// Is lets errors.Is(err, context.DeadlineExceeded) match.
func (e *TimeoutError) Is(target error) bool {
	return errors.Is(target, context.DeadlineExceeded)
}
