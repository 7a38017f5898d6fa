//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry defines the sink that receives per-node execution
// records at the end of every turn, plus log and fan-out implementations.
// Exporter-backed sinks live in the metric and prometheus sub-packages.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/jovemexausto/zupa/log"
)

// Result values reported in Event.Result.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultInterrupted = "interrupted"
	ResultSkipped     = "skipped"
)

// Event is one telemetry record.
type Event struct {
	RequestID  string         `json:"requestId"`
	Node       string         `json:"node"`
	DurationMs int64          `json:"durationMs"`
	Result     string         `json:"result"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Sink receives telemetry events. Emit is fire-and-forget: implementations
// must not block the caller for long and swallow their own failures.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes every event to a logger at debug level, and non-ok
// results at warn level.
type LogSink struct {
	logger log.Logger
}

// NewLogSink creates a LogSink. A nil logger uses log.Default.
func NewLogSink(logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, ev Event) {
	if ev.Result != ResultOK {
		s.logger.Warnf("telemetry request=%s node=%s result=%s code=%s duration=%dms",
			ev.RequestID, ev.Node, ev.Result, ev.ErrorCode, ev.DurationMs)
		return
	}
	s.logger.Debugf("telemetry request=%s node=%s result=%s duration=%dms",
		ev.RequestID, ev.Node, ev.Result, ev.DurationMs)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
