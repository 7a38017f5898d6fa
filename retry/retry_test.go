//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     4 * time.Millisecond,
	}
}

func TestNextDelay_ExponentialAndClamped(t *testing.T) {
	p := Policy{InitialInterval: 10 * time.Millisecond, BackoffFactor: 2, MaxInterval: 35 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 20*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 35*time.Millisecond, p.NextDelay(3))
	assert.Equal(t, 35*time.Millisecond, p.NextDelay(10))
	assert.Equal(t, 10*time.Millisecond, p.NextDelay(0))
}

func TestNextDelay_JitterBounded(t *testing.T) {
	p := Policy{InitialInterval: 10 * time.Millisecond, BackoffFactor: 1, Jitter: true}
	for i := 0; i < 20; i++ {
		d := p.NextDelay(1)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	var calls int32
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	var calls int32
	boom := errors.New("constraint violated")
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls)
}

func TestDo_ExhaustedWrapsLastError(t *testing.T) {
	last := Transient(errors.New("still down"))
	err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) error { return last })
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.Contains(t, err.Error(), "still down")
}

func TestDoValue_PerAttemptTimeout(t *testing.T) {
	var calls int32
	p := fastPolicy(2).WithTimeout(10 * time.Millisecond)
	v, err := DoValue(context.Background(), p, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(3), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", Transient(errors.New("x")), true},
		{"permanent beats heuristic", Permanent(errors.New("timeout")), false},
		{"status 429", &StatusError{Code: 429}, true},
		{"status 503 wrapped", fmt.Errorf("call: %w", &StatusError{Code: 503}), true},
		{"status 400", &StatusError{Code: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"timeout error", &TimeoutError{After: time.Second}, true},
		{"message econnreset", errors.New("read: ECONNRESET"), true},
		{"message rate limit", errors.New("Rate limit reached"), true},
		{"plain", errors.New("no such column"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsRetryable(c.err))
		})
	}
}

func TestShouldRetry_CustomConditions(t *testing.T) {
	sentinel := errors.New("sentinel")
	p := Policy{RetryOn: []Condition{OnErrors(sentinel)}}
	assert.True(t, p.ShouldRetry(fmt.Errorf("wrap: %w", sentinel)))
	assert.False(t, p.ShouldRetry(Transient(errors.New("other"))))
	assert.False(t, p.ShouldRetry(nil))
}
