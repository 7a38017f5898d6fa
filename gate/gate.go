//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package gate bounds how many inbound messages are processed at once.
// Messages above the bound are shed to an overload callback, never queued.
package gate

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/jovemexausto/zupa/transport"
)

// ErrOverloaded is returned when a message arrives with every permit taken.
var ErrOverloaded = errors.New("gate: overloaded")

// OverloadFunc is called with each message shed by the gate.
type OverloadFunc func(ctx context.Context, msg transport.InboundMessage)

// Option configures a Gate.
type Option func(*Gate)

// WithOverload sets the callback for shed messages.
func WithOverload(fn OverloadFunc) Option {
	return func(g *Gate) { g.onOverload = fn }
}

// Gate owns the process-wide in-flight permits.
type Gate struct {
	max        int64
	sem        *semaphore.Weighted
	inFlight   atomic.Int64
	shed       atomic.Int64
	onOverload OverloadFunc
}

// New creates a gate admitting maxConcurrent messages. A non-positive
// maxConcurrent admits everything.
func New(maxConcurrent int, opts ...Option) *Gate {
	g := &Gate{max: int64(maxConcurrent)}
	if g.max > 0 {
		g.sem = semaphore.NewWeighted(g.max)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Max returns the configured bound, 0 when unbounded.
func (g *Gate) Max() int {
	if g.max < 0 {
		return 0
	}
	return int(g.max)
}

// InFlight returns the number of admitted, unfinished runs.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Shed returns how many runs were rejected so far.
func (g *Gate) Shed() int { return int(g.shed.Load()) }

// TryRun runs fn if a permit is free and returns ErrOverloaded otherwise.
// The permit is released when fn returns or panics.
func (g *Gate) TryRun(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.sem != nil && !g.sem.TryAcquire(1) {
		g.shed.Add(1)
		return ErrOverloaded
	}
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		if g.sem != nil {
			g.sem.Release(1)
		}
	}()
	return fn(ctx)
}

// Wrap returns a handler running h under the gate. Shed messages go to the
// overload callback and the wrapped handler returns ErrOverloaded.
func (g *Gate) Wrap(h transport.Handler) transport.Handler {
	return func(ctx context.Context, msg transport.InboundMessage) error {
		err := g.TryRun(ctx, func(ctx context.Context) error { return h(ctx, msg) })
		if errors.Is(err, ErrOverloaded) && g.onOverload != nil {
			g.onOverload(ctx, msg)
		}
		return err
	}
}
