//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpointtest holds the behaviour every checkpoint store must
// share, run by each backend's tests.
package checkpointtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/graph"
)

// Store is what a backend under test must provide.
type Store interface {
	graph.Store
	graph.LedgerReader
}

// Run exercises store semantics against stores produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("EmptyThread", func(t *testing.T) { testEmptyThread(t, newStore(t)) })
	t.Run("ChainOrder", func(t *testing.T) { testChainOrder(t, newStore(t)) })
	t.Run("PutSameIDReplaces", func(t *testing.T) { testReplace(t, newStore(t)) })
	t.Run("ThreadsAreIsolated", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("Ledger", func(t *testing.T) { testLedger(t, newStore(t)) })
	t.Run("PutStep", func(t *testing.T) { testPutStep(t, newStore(t)) })
}

// NewCheckpoint builds a checkpoint following parent in thread.
func NewCheckpoint(threadID string, parent *graph.Checkpoint, values graph.State, next ...graph.NodeID) *graph.Checkpoint {
	step := 0
	parentID := ""
	source := graph.SourceInput
	if parent != nil {
		step = parent.Metadata.Step + 1
		parentID = parent.ID
		source = graph.SourceLoop
	}
	return &graph.Checkpoint{
		ID:        graph.CheckpointID(threadID, parentID, step),
		ParentID:  parentID,
		ThreadID:  threadID,
		Values:    values,
		Metadata:  graph.Metadata{Step: step, Source: source, Writes: values},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, step, 0, time.UTC),
		NextTasks: next,
	}
}

func testEmptyThread(t *testing.T, s Store) {
	ctx := context.Background()
	latest, err := s.Latest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, latest)

	byID, err := s.Get(ctx, "missing", "nope")
	require.NoError(t, err)
	assert.Nil(t, byID)

	history, err := s.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, history)

	ledger, err := s.Ledger(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func testChainOrder(t *testing.T, s Store) {
	ctx := context.Background()
	const thread = "turn:msg-1"
	first := NewCheckpoint(thread, nil, graph.State{"body": "Hi"}, "a")
	second := NewCheckpoint(thread, first, graph.State{"reply": "Hello there!"}, "b")
	third := NewCheckpoint(thread, second, graph.State{"done": true})
	for _, ck := range []*graph.Checkpoint{first, second, third} {
		require.NoError(t, s.Put(ctx, thread, ck))
	}

	latest, err := s.Latest(ctx, thread)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, third.ID, latest.ID)
	assert.Equal(t, second.ID, latest.ParentID)
	assert.True(t, latest.IsTerminal())
	assert.Equal(t, 2, latest.Metadata.Step)
	assert.Equal(t, true, latest.Values["done"])

	got, err := s.Get(ctx, thread, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hi", got.Values["body"])
	assert.Equal(t, []graph.NodeID{"a"}, got.NextTasks)
	assert.Equal(t, graph.SourceInput, got.Metadata.Source)

	history, err := s.History(ctx, thread)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
	assert.Equal(t, third.ID, history[2].ID)
}

func testReplace(t *testing.T, s Store) {
	ctx := context.Background()
	const thread = "t"
	ck := NewCheckpoint(thread, nil, graph.State{"v": "one"}, "a")
	require.NoError(t, s.Put(ctx, thread, ck))
	again := ck.Copy()
	again.Values = graph.State{"v": "two"}
	require.NoError(t, s.Put(ctx, thread, again))

	history, err := s.History(ctx, thread)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "two", history[0].Values["v"])
}

func testIsolation(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", NewCheckpoint("a", nil, graph.State{"k": "a"}, "x")))
	require.NoError(t, s.Put(ctx, "b", NewCheckpoint("b", nil, graph.State{"k": "b"})))

	a, err := s.Latest(ctx, "a")
	require.NoError(t, err)
	b, err := s.Latest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Values["k"])
	assert.Equal(t, "b", b.Values["k"])
	assert.NotEqual(t, a.ID, b.ID)
}

func testLedger(t *testing.T, s Store) {
	ctx := context.Background()
	const thread = "turn:msg-9"
	require.NoError(t, s.AppendLedgerEvent(ctx, thread, graph.LedgerEvent{
		Topic: "message.inbound", Key: "session-1", Data: map[string]any{"messageId": "msg-9"},
	}))
	require.NoError(t, s.AppendLedgerEvent(ctx, thread, graph.LedgerEvent{
		Topic: "message.outbound", Key: "session-1",
	}))

	events, err := s.Ledger(ctx, thread)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "message.inbound", events[0].Topic)
	assert.Equal(t, "session-1", events[0].Key)
	assert.Equal(t, "msg-9", events[0].Data["messageId"])
	assert.Equal(t, "message.outbound", events[1].Topic)
}

func testPutStep(t *testing.T, s Store) {
	w, ok := s.(graph.StepWriter)
	if !ok {
		t.Skip("store commits checkpoints and ledger separately")
	}
	ctx := context.Background()
	const thread = "turn:msg-10"
	root := NewCheckpoint(thread, nil, graph.State{"n": 0}, "a")
	require.NoError(t, w.PutStep(ctx, thread, root, nil))
	next := NewCheckpoint(thread, root, graph.State{"n": 1})
	require.NoError(t, w.PutStep(ctx, thread, next, []graph.LedgerEvent{
		{Topic: "inbound.claimed", Key: thread, Data: map[string]any{"messageId": "msg-10"}},
		{Topic: "reply.sent", Key: thread},
	}))

	latest, err := s.Latest(ctx, thread)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, next.ID, latest.ID)
	history, err := s.History(ctx, thread)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	events, err := s.Ledger(ctx, thread)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "inbound.claimed", events[0].Topic)
	assert.Equal(t, "msg-10", events[0].Data["messageId"])
	assert.Equal(t, "reply.sent", events[1].Topic)
}
