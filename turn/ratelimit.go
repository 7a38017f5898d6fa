//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package turn

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits inbound turns per user.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows perMinute turns per user with the given burst. A
// non-positive perMinute returns nil, which allows everything.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether userID may start a turn at now.
func (rl *RateLimiter) Allow(userID string, now time.Time) bool {
	if rl == nil {
		return true
	}
	return rl.limiter(userID).AllowN(now, 1)
}

func (rl *RateLimiter) limiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[userID] = l
	}
	return l
}
