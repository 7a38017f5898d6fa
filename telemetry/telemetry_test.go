//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/log"
)

func TestMultiSink_FansOutInOrder(t *testing.T) {
	var order []string
	first := SinkFunc(func(_ context.Context, ev Event) { order = append(order, "first:"+ev.Node) })
	second := SinkFunc(func(_ context.Context, ev Event) { order = append(order, "second:"+ev.Node) })

	MultiSink{first, nil, second}.Emit(context.Background(), Event{Node: "llm_node"})
	assert.Equal(t, []string{"first:llm_node", "second:llm_node"}, order)
}

func TestRecorder_ReturnsCopy(t *testing.T) {
	r := &Recorder{}
	r.Emit(context.Background(), Event{Node: "a", Result: ResultOK})
	r.Emit(context.Background(), Event{Node: "b", Result: ResultError})

	events := r.Events()
	require.Len(t, events, 2)
	events[0].Node = "mutated"
	assert.Equal(t, "a", r.Events()[0].Node)
}

func TestLogSink_WarnsOnFailure(t *testing.T) {
	var buf bytes.Buffer
	log.SetLevel(log.LevelDebug)
	defer log.SetLevel(log.LevelInfo)

	sink := NewLogSink(log.New(&buf))
	sink.Emit(context.Background(), Event{
		RequestID: "msg-1",
		Node:      "llm_node",
		Result:    ResultError,
		ErrorCode: "timeout",
		Timestamp: time.Now(),
	})
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "code=timeout")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop.Emit(context.Background(), Event{}) })
}
