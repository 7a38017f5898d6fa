//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jovemexausto/zupa/internal/keylock"
	itelemetry "github.com/jovemexausto/zupa/internal/telemetry"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/telemetry/trace"
)

// DefaultMaxSteps bounds the number of super-steps one Invoke may run.
const DefaultMaxSteps = 50

// Executor runs a compiled graph step by step, persisting a checkpoint
// after every step. Calls on the same thread id are serialized.
type Executor struct {
	graph    *Graph
	maxSteps int
	now      func() time.Time
	threads  keylock.Map
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxSteps sets the maximum number of super-steps per Invoke.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithClock overrides the clock used for checkpoint timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if g == nil || len(g.nodes) == 0 {
		return nil, ErrEmptyGraph
	}
	e := &Executor{
		graph:    g,
		maxSteps: DefaultMaxSteps,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph { return e.graph }

// InvokeConfig selects the thread and its persistence.
type InvokeConfig struct {
	ThreadID string
	Store    Store
	// Entrypoint, when set, overrides the next frontier so the thread re-enters
	// at that node while keeping its existing values.
	Entrypoint NodeID
}

func (c InvokeConfig) validate() error {
	if c.ThreadID == "" {
		return ErrThreadIDRequired
	}
	if c.Store == nil {
		return ErrStoreRequired
	}
	return nil
}

// Invoke runs the thread until its frontier is empty, an interrupt suspends
// it, or the step budget is exhausted. It returns the last persisted
// checkpoint. A node error aborts the step without persisting it, so the
// previous checkpoint stays the latest and a retry re-enters cleanly.
func (e *Executor) Invoke(ctx context.Context, input State, cfg InvokeConfig) (*Checkpoint, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	unlock, err := e.threads.Lock(ctx, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.run(ctx, input, cfg)
}

// run is Invoke with the thread lock held.
func (e *Executor) run(ctx context.Context, input State, cfg InvokeConfig) (*Checkpoint, error) {
	ctx, span := trace.Tracer.Start(ctx, "graph.invoke")
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyThreadID, cfg.ThreadID))

	ck, err := e.prepare(ctx, input, cfg)
	if err != nil {
		trace.Fail(span, err)
		return nil, err
	}
	steps := 0
	for !ck.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		steps++
		if steps > e.maxSteps {
			err := fmt.Errorf("thread %s: %w (%d)", cfg.ThreadID, ErrMaxStepsExceeded, e.maxSteps)
			trace.Fail(span, err)
			return nil, err
		}
		next, ledger, err := e.runStep(ctx, cfg.ThreadID, ck)
		if err != nil {
			trace.Fail(span, err)
			return nil, err
		}
		if err := e.persist(ctx, cfg, next, ledger); err != nil {
			return nil, err
		}
		ck = next
		if ck.IsInterrupted() {
			break
		}
	}
	span.SetAttributes(attribute.Int("zupa.steps", steps))
	return ck, nil
}

// Resume continues a suspended or unfinished thread, merging payload into its
// values first. It rejects threads with no checkpoint or a terminal one.
func (e *Executor) Resume(ctx context.Context, payload State, cfg InvokeConfig) (*Checkpoint, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	unlock, err := e.threads.Lock(ctx, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	latest, err := cfg.Store.Latest(ctx, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("resume %s: %w", cfg.ThreadID, ErrNoCheckpoint)
	}
	if latest.IsTerminal() {
		return nil, fmt.Errorf("resume %s: %w", cfg.ThreadID, ErrThreadTerminal)
	}
	return e.run(ctx, payload, cfg)
}

// prepare loads or synthesizes the checkpoint the loop starts from.
func (e *Executor) prepare(ctx context.Context, input State, cfg InvokeConfig) (*Checkpoint, error) {
	latest, err := cfg.Store.Latest(ctx, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	schema := e.graph.schema
	if latest == nil {
		entry := cfg.Entrypoint
		if entry == "" {
			entry = e.graph.entryPoint
		}
		if _, ok := e.graph.nodes[entry]; !ok {
			return nil, fmt.Errorf("entrypoint %s: %w", entry, ErrNodeNotFound)
		}
		ck := e.newCheckpoint(cfg.ThreadID, "", 0, Metadata{
			Step:   0,
			Source: SourceInput,
			Writes: input.Clone(),
		}, schema.Apply(State{}, input), []NodeID{entry})
		if err := e.persist(ctx, cfg, ck, nil); err != nil {
			return nil, err
		}
		return ck, nil
	}

	values, err := schema.Restore(latest.Values)
	if err != nil {
		return nil, err
	}
	latest = latest.Copy()
	latest.Values = values
	if len(input) == 0 && cfg.Entrypoint == "" {
		return latest, nil
	}
	next := latest.NextTasks
	if cfg.Entrypoint != "" {
		if _, ok := e.graph.nodes[cfg.Entrypoint]; !ok {
			return nil, fmt.Errorf("entrypoint %s: %w", cfg.Entrypoint, ErrNodeNotFound)
		}
		next = []NodeID{cfg.Entrypoint}
	}
	step := latest.Metadata.Step + 1
	ck := e.newCheckpoint(cfg.ThreadID, latest.ID, step, Metadata{
		Step:   step,
		Source: SourceInput,
		Writes: input.Clone(),
	}, schema.Apply(latest.Values, input), next)
	if err := e.persist(ctx, cfg, ck, nil); err != nil {
		return nil, err
	}
	return ck, nil
}

func (e *Executor) newCheckpoint(
	threadID, parentID string,
	step int,
	meta Metadata,
	values State,
	next []NodeID,
) *Checkpoint {
	return &Checkpoint{
		ID:        CheckpointID(threadID, parentID, step),
		ParentID:  parentID,
		ThreadID:  threadID,
		Values:    values,
		Metadata:  meta,
		CreatedAt: e.now(),
		NextTasks: next,
	}
}

// persist commits ck together with the ledger events of the step that
// produced it. Stores without StepWriter get the ledger first so a failed
// Put leaves the previous checkpoint latest and the step is re-run.
func (e *Executor) persist(ctx context.Context, cfg InvokeConfig, ck *Checkpoint, ledger []LedgerEvent) error {
	events := make([]LedgerEvent, len(ledger))
	for i, ev := range ledger {
		if ev.Key == "" {
			ev.Key = cfg.ThreadID
		}
		events[i] = ev
	}
	if w, ok := cfg.Store.(StepWriter); ok {
		if err := w.PutStep(ctx, cfg.ThreadID, ck, events); err != nil {
			return fmt.Errorf("put checkpoint %s: %w", ck.ID, err)
		}
		return nil
	}
	for _, ev := range events {
		if err := cfg.Store.AppendLedgerEvent(ctx, cfg.ThreadID, ev); err != nil {
			return fmt.Errorf("append ledger event %s: %w", ev.Topic, err)
		}
	}
	if err := cfg.Store.Put(ctx, cfg.ThreadID, ck); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", ck.ID, err)
	}
	return nil
}

type taskOutcome struct {
	node      NodeID
	result    *Result
	interrupt *InterruptError
	duration  time.Duration
}

// runStep executes the frontier of ck concurrently and folds the results into
// the next checkpoint. Nothing is persisted here.
func (e *Executor) runStep(ctx context.Context, threadID string, ck *Checkpoint) (*Checkpoint, []LedgerEvent, error) {
	step := ck.Metadata.Step + 1
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("graph.step %d", step))
	defer span.End()

	frontier := dedupe(ck.NextTasks)
	nodes := make([]*Node, len(frontier))
	for i, id := range frontier {
		node, ok := e.graph.nodes[id]
		if !ok {
			return nil, nil, fmt.Errorf("step %d: %s: %w", step, id, ErrNodeNotFound)
		}
		nodes[i] = node
	}

	view := NewView(ck.Values)
	outcomes := make([]taskOutcome, len(nodes))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		group.Go(func() error {
			out, err := e.runNode(groupCtx, ExecInfo{
				ThreadID:     threadID,
				CheckpointID: ck.ID,
				Step:         step,
				Node:         node.ID,
			}, node, view)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	schema := e.graph.schema
	values := ck.Values
	writes := State{}
	var (
		ledger      []LedgerEvent
		next        []NodeID
		interrupted []NodeID
		interrupts  []InterruptInfo
		timings     = make([]NodeTiming, 0, len(outcomes))
	)
	for _, out := range outcomes {
		timing := NodeTiming{
			Node:       out.node,
			Step:       step,
			DurationMs: out.duration.Milliseconds(),
			Result:     NodeResultOK,
		}
		if out.interrupt != nil {
			timing.Result = NodeResultInterrupted
			timings = append(timings, timing)
			interrupted = append(interrupted, out.node)
			interrupts = append(interrupts, InterruptInfo{Node: out.node, Value: out.interrupt.Value})
			continue
		}
		timings = append(timings, timing)
		if out.result == nil {
			continue
		}
		values = schema.Apply(values, out.result.Update)
		for k, v := range out.result.Update {
			writes[k] = v
		}
		ledger = append(ledger, out.result.Ledger...)
		next = append(next, out.result.Next...)
	}
	values = schema.Apply(values, State{ChannelNodeTimings: timings})

	meta := Metadata{Step: step, Source: SourceLoop, Writes: writes}
	if len(interrupted) > 0 {
		meta.Source = SourceInterrupted
		meta.Interrupts = interrupts
		next = interrupted
	}
	next = dedupe(next)
	for _, id := range next {
		if _, ok := e.graph.nodes[id]; !ok {
			return nil, nil, fmt.Errorf("step %d: next %s: %w", step, id, ErrNodeNotFound)
		}
	}
	span.SetAttributes(attribute.Int("zupa.frontier", len(frontier)), attribute.Int("zupa.next", len(next)))
	return e.newCheckpoint(threadID, ck.ID, step, meta, values, next), ledger, nil
}

func (e *Executor) runNode(ctx context.Context, info ExecInfo, node *Node, view View) (out taskOutcome, err error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewNodeSpanName(node.ID.String()))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyNodeID, node.ID.String()),
		attribute.Int(itelemetry.KeyStep, info.Step),
	)
	out.node = node.ID
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("node %s panicked: %v\n%s", node.ID, r, debug.Stack())
			err = fmt.Errorf("node %s panicked: %v", node.ID, r)
		}
		out.duration = time.Since(start)
		trace.Fail(span, err)
	}()

	res, runErr := node.Function(withExecInfo(ctx, info), view)
	if runErr != nil {
		if ie, ok := GetInterruptError(runErr); ok {
			ie.NodeID = node.ID
			ie.Step = info.Step
			out.interrupt = ie
			return out, nil
		}
		return out, fmt.Errorf("node %s: %w", node.ID, runErr)
	}
	out.result = res
	return out, nil
}

func dedupe(ids []NodeID) []NodeID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[NodeID]struct{}, len(ids))
	out := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
