//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner binds a messaging transport to the turn pipeline. It gates
// inbound messages, runs turns on a worker pool, owns the start and close
// order of the collaborators and re-exposes lifecycle and auth events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/jovemexausto/zupa/event"
	"github.com/jovemexausto/zupa/gate"
	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/internal/keylock"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/telemetry/trace"
	"github.com/jovemexausto/zupa/transport"
	"github.com/jovemexausto/zupa/turn"
)

// ErrClosed is returned when starting a runtime that was closed.
var ErrClosed = errors.New("runner: runtime closed")

// InboundEvent is the payload of inbound.overloaded and inbound.failed.
type InboundEvent struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Error     string `json:"error,omitempty"`
}

// TurnEvent is the payload of turn.completed.
type TurnEvent struct {
	RequestID string   `json:"requestId"`
	MessageID string   `json:"messageId"`
	From      string   `json:"from"`
	Duplicate bool     `json:"duplicate"`
	Handled   bool     `json:"handled"`
	ReplySent bool     `json:"replySent"`
	Modality  string   `json:"modality,omitempty"`
	Degraded  []string `json:"degraded,omitempty"`
}

// AuthEvent is the payload of the auth.* events.
type AuthEvent struct {
	QR    string `json:"qr,omitempty"`
	Error string `json:"error,omitempty"`
}

// StartedEvent is the payload of runtime.started.
type StartedEvent struct {
	MaxConcurrent int `json:"maxConcurrent"`
	PoolSize      int `json:"poolSize"`
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig sets the admission configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithEventBus shares bus with the caller. The runtime does not close it.
func WithEventBus(bus *event.Bus) Option {
	return func(r *Runtime) { r.bus = bus }
}

// WithResources registers collaborators started before the transport and
// stopped after it, in reverse order.
func WithResources(rs ...Resource) Option {
	return func(r *Runtime) { r.lifecycle.Add(rs...) }
}

type runState int

const (
	stateIdle runState = iota
	stateStarted
	stateClosed
)

// Runtime is a running agent.
type Runtime struct {
	pipeline  *turn.Pipeline
	saver     graph.Store
	transport transport.Transport
	cfg       Config
	gate      *gate.Gate
	bus       *event.Bus
	ownsBus   bool
	lifecycle Lifecycle
	threads   keylock.Map

	mu     sync.Mutex
	state  runState
	pool   *ants.Pool
	unsubs []func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runtime running p's turns with checkpoints in saver.
func New(p *turn.Pipeline, saver graph.Store, opts ...Option) (*Runtime, error) {
	if p == nil {
		return nil, errors.New("runner: pipeline is required")
	}
	if saver == nil {
		return nil, errors.New("runner: checkpoint store is required")
	}
	r := &Runtime{
		pipeline:  p,
		saver:     saver,
		transport: p.Transport(),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg = r.cfg.withDefaults()
	if r.bus == nil {
		r.bus = event.NewBus(event.WithBlockingEmit())
		r.ownsBus = true
	}
	r.gate = gate.New(r.cfg.MaxConcurrent, gate.WithOverload(r.overloaded))
	return r, nil
}

// Gate returns the inbound concurrency gate.
func (r *Runtime) Gate() *gate.Gate { return r.gate }

// On subscribes h to the runtime event name.
func (r *Runtime) On(name string, h event.Handler) (unsubscribe func()) {
	return r.bus.On(name, h)
}

// Start starts the resources, subscribes to the transport and starts it.
// Starting a started runtime is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateStarted:
		return nil
	case stateClosed:
		return ErrClosed
	}
	if err := r.lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	pool, err := ants.NewPool(r.cfg.PoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) { log.Errorf("runner: turn worker panicked: %v", v) }),
	)
	if err != nil {
		_ = r.lifecycle.Stop(ctx)
		return fmt.Errorf("runner: create worker pool: %w", err)
	}
	r.pool = pool
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if an, ok := r.transport.(transport.AuthNotifier); ok {
		r.unsubs = append(r.unsubs,
			an.OnAuthQR(func(qr string) { r.emit(event.AuthQR, AuthEvent{QR: qr}) }),
			an.OnAuthReady(func() { r.emit(event.AuthReady, nil) }),
			an.OnAuthFailure(func(err error) { r.emit(event.AuthFailure, AuthEvent{Error: errString(err)}) }),
		)
	}
	r.unsubs = append(r.unsubs, r.transport.OnInbound(r.dispatch))
	if err := r.transport.Start(ctx); err != nil {
		r.teardown(ctx)
		return fmt.Errorf("runner: start transport: %w", err)
	}
	r.state = stateStarted
	log.Infof("runner: started (max concurrent %d, pool %d)", r.gate.Max(), r.cfg.PoolSize)
	r.emit(event.RuntimeStarted, StartedEvent{MaxConcurrent: r.gate.Max(), PoolSize: r.cfg.PoolSize})
	return nil
}

// Close stops accepting messages, waits up to the close timeout for
// in-flight turns and stops the resources. Closing twice is a no-op.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state
	r.state = stateClosed
	if prev == stateClosed {
		return nil
	}
	var errs []error
	if prev == stateStarted {
		for _, unsub := range r.unsubs {
			unsub()
		}
		r.unsubs = nil
		if err := r.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		if !r.drain(r.cfg.CloseTimeout) {
			log.Warnf("runner: in-flight turns did not finish within %s, cancelling", r.cfg.CloseTimeout)
		}
		r.cancel()
		r.pool.Release()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CloseTimeout)
		if err := r.lifecycle.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		r.emit(event.RuntimeClosed, nil)
		log.Infof("runner: closed")
	}
	if r.ownsBus {
		if err := r.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

func (r *Runtime) teardown(ctx context.Context) {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.cancel()
	r.pool.Release()
	_ = r.lifecycle.Stop(ctx)
}

func (r *Runtime) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// dispatch hands a transport message to the pool. The turn runs under the
// gate on a worker, so the transport read loop never blocks on a turn.
func (r *Runtime) dispatch(ctx context.Context, msg transport.InboundMessage) error {
	handler := r.gate.Wrap(r.handle)
	r.wg.Add(1)
	err := r.pool.Submit(func() {
		defer r.wg.Done()
		if err := handler(r.ctx, msg); err != nil && !errors.Is(err, gate.ErrOverloaded) {
			log.Errorf("runner: inbound %s: %v", msg.MessageID, err)
		}
	})
	if err != nil {
		r.wg.Done()
		r.overloaded(ctx, msg)
		return fmt.Errorf("runner: submit inbound %s: %w", msg.MessageID, err)
	}
	return nil
}

func (r *Runtime) handle(ctx context.Context, msg transport.InboundMessage) error {
	_, err := r.RunInbound(ctx, msg)
	return err
}

func (r *Runtime) overloaded(ctx context.Context, msg transport.InboundMessage) {
	log.Warnf("runner: shedding inbound %s from %s, %d turns in flight", msg.MessageID, msg.From, r.gate.InFlight())
	if r.cfg.BusyReply != "" && msg.From != "" {
		if err := r.transport.SendText(ctx, msg.From, r.cfg.BusyReply); err != nil {
			log.Warnf("runner: send busy reply to %s: %v", msg.From, err)
		}
	}
	r.emit(event.InboundOverloaded, InboundEvent{MessageID: msg.MessageID, From: msg.From})
}

// RunInbound runs the turn of msg and returns its outcome. A thread left
// unfinished by an earlier failure is resumed; otherwise the thread is
// entered at the dedup gate, so redelivered messages short-circuit. It does
// not pass through the gate. Deliveries of the same message run one at a
// time.
func (r *Runtime) RunInbound(ctx context.Context, msg transport.InboundMessage) (turn.Outcome, error) {
	ctx, span := trace.Tracer.Start(ctx, "runner.inbound")
	defer span.End()

	ck, err := r.advance(ctx, msg)
	if err != nil {
		trace.Fail(span, err)
		r.emit(event.InboundFailed, InboundEvent{MessageID: msg.MessageID, From: msg.From, Error: err.Error()})
		return turn.Outcome{}, fmt.Errorf("runner: turn %s: %w", msg.MessageID, err)
	}
	out := turn.OutcomeOf(ck.Values)
	r.emit(event.TurnCompleted, TurnEvent{
		RequestID: out.RequestID,
		MessageID: msg.MessageID,
		From:      msg.From,
		Duplicate: out.Duplicate,
		Handled:   out.Handled,
		ReplySent: out.ReplySent,
		Modality:  string(out.OutputModality),
		Degraded:  out.Degraded,
	})
	return out, nil
}

// advance resumes or enters the thread of msg while holding its lock, so a
// concurrent redelivery reads the checkpoint the first one left.
func (r *Runtime) advance(ctx context.Context, msg transport.InboundMessage) (*graph.Checkpoint, error) {
	cfg := graph.InvokeConfig{ThreadID: turn.ThreadID(msg), Store: r.saver}
	unlock, err := r.threads.Lock(ctx, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exec := r.pipeline.Executor()
	latest, err := r.saver.Latest(ctx, cfg.ThreadID)
	switch {
	case err != nil:
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	case latest != nil && !latest.IsTerminal():
		log.Infof("runner: resuming %s at %v", cfg.ThreadID, latest.NextTasks)
		return exec.Resume(ctx, nil, cfg)
	default:
		cfg.Entrypoint = turn.NodeEventDedupGate
		return exec.Invoke(ctx, turn.Input(msg), cfg)
	}
}

func (r *Runtime) emit(name string, payload any) {
	if err := r.bus.Emit(name, payload); err != nil {
		log.Warnf("runner: emit %s: %v", name, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
