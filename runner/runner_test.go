//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/event"
	cpmem "github.com/jovemexausto/zupa/graph/checkpoint/inmemory"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/model/fake"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/store"
	storemem "github.com/jovemexausto/zupa/store/inmemory"
	"github.com/jovemexausto/zupa/transport"
	trmem "github.com/jovemexausto/zupa/transport/inmemory"
	"github.com/jovemexausto/zupa/turn"
)

const from = "5511999999999@c.us"

type fixture struct {
	st    store.Store
	model *fake.Model
	tr    *trmem.Transport
	saver *cpmem.Saver
	rt    *Runtime
}

func newFixture(t *testing.T, st store.Store, opts ...Option) *fixture {
	t.Helper()
	if st == nil {
		st = storemem.New()
	}
	f := &fixture{st: st, model: fake.New(), tr: trmem.New(), saver: cpmem.NewSaver()}
	p, err := turn.New(turn.Config{
		SystemPrompt: "You are Zupa.",
		Retry:        retry.Policy{MaxAttempts: 1},
	}, turn.Deps{Store: f.st, Model: f.model, Transport: f.tr})
	require.NoError(t, err)
	f.rt, err = New(p, f.saver, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.rt.Close() })
	return f
}

// collect records every payload of name.
type collector[T any] struct {
	mu  sync.Mutex
	got []T
}

func collect[T any](rt *Runtime, name string) *collector[T] {
	c := &collector[T]{}
	rt.On(name, func(_ context.Context, e event.Event) {
		var v T
		if err := e.Decode(&v); err != nil {
			return
		}
		c.mu.Lock()
		c.got = append(c.got, v)
		c.mu.Unlock()
	})
	return c
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.got...)
}

func inbound(id, body string) transport.InboundMessage {
	return transport.InboundMessage{MessageID: id, From: from, Body: body, Kind: transport.KindText}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, cpmem.NewSaver())
	assert.Error(t, err)
}

func TestRunInbound_CompletesTurn(t *testing.T) {
	f := newFixture(t, nil)
	completed := collect[TurnEvent](f.rt, event.TurnCompleted)
	f.model.Push(fake.Text("Hello there!"))

	out, err := f.rt.RunInbound(context.Background(), inbound("msg-101", "Hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", out.Reply)
	assert.True(t, out.ReplySent)
	events := completed.all()
	require.Len(t, events, 1)
	assert.Equal(t, "msg-101", events[0].MessageID)
	assert.Equal(t, out.RequestID, events[0].RequestID)
	assert.Equal(t, "text", events[0].Modality)
	assert.True(t, events[0].ReplySent)
}

func TestRunInbound_RedeliveryShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	f.model.Push(fake.Text("once"))
	msg := inbound("msg-102", "Hi")

	_, err := f.rt.RunInbound(context.Background(), msg)
	require.NoError(t, err)
	out, err := f.rt.RunInbound(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Equal(t, 1, f.model.Calls())
	assert.Len(t, f.tr.SentOf(trmem.SentText), 1)
}

func TestRunInbound_ConcurrentRedeliveryRunsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.model.Push(fake.Text("once"))
	msg := inbound("msg-104", "Hi")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		outs []turn.Outcome
	)
	start := make(chan struct{})
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := f.rt.RunInbound(context.Background(), msg)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outs = append(outs, out)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, outs, 2)
	dups := 0
	for _, out := range outs {
		if out.Duplicate {
			dups++
		}
	}
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, f.model.Calls())
	assert.Len(t, f.tr.SentOf(trmem.SentText), 1)

	ctx := context.Background()
	thread := turn.ThreadID(msg)
	history, err := f.saver.History(ctx, thread)
	require.NoError(t, err)
	seen := map[string]bool{}
	for i, ck := range history {
		assert.False(t, seen[ck.ID], "checkpoint %s stored twice", ck.ID)
		seen[ck.ID] = true
		if i > 0 {
			assert.Equal(t, history[i-1].ID, ck.ParentID)
		}
	}
	ledger, err := f.saver.Ledger(ctx, thread)
	require.NoError(t, err)
	topics := map[string]int{}
	for _, ev := range ledger {
		topics[ev.Topic]++
	}
	assert.Equal(t, 1, topics[turn.TopicInboundClaimed])
	assert.Equal(t, 1, topics[turn.TopicInboundDuplicate])
}

type failingReplies struct {
	*storemem.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingReplies) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *failingReplies) AppendMessage(ctx context.Context, m *store.Message) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail && m.Role == store.RoleAssistant {
		return errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, m)
}

func TestRunInbound_ResumesUnfinishedThread(t *testing.T) {
	st := &failingReplies{Store: storemem.New(), fail: true}
	f := newFixture(t, st)
	failed := collect[InboundEvent](f.rt, event.InboundFailed)
	f.model.Push(fake.Text("persisted later"))
	msg := inbound("msg-103", "Hi")

	_, err := f.rt.RunInbound(context.Background(), msg)
	require.Error(t, err)
	require.Len(t, failed.all(), 1)
	assert.Contains(t, failed.all()[0].Error, "disk full")

	st.setFail(false)
	out, err := f.rt.RunInbound(context.Background(), msg)
	require.NoError(t, err)

	assert.False(t, out.Duplicate)
	assert.Equal(t, 1, f.model.Calls())
	assert.Len(t, f.tr.SentOf(trmem.SentText), 1)
	msgs, err := st.RecentMessages(context.Background(), out.Session.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStartClose_Lifecycle(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(s string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}
	f := newFixture(t, nil, WithResources(
		NewResource("store", record("start store"), record("stop store")),
		NewResource("checkpoints", record("start checkpoints"), record("stop checkpoints")),
	))
	started := collect[StartedEvent](f.rt, event.RuntimeStarted)
	closed := collect[struct{}](f.rt, event.RuntimeClosed)

	require.NoError(t, f.rt.Start(context.Background()))
	require.NoError(t, f.rt.Start(context.Background()))
	assert.True(t, f.tr.Started())
	require.Len(t, started.all(), 1)

	require.NoError(t, f.rt.Close())
	require.NoError(t, f.rt.Close())
	assert.False(t, f.tr.Started())
	assert.Len(t, closed.all(), 1)
	assert.Equal(t, []string{"start store", "start checkpoints", "stop checkpoints", "stop store"}, order)
	assert.ErrorIs(t, f.rt.Start(context.Background()), ErrClosed)
}

func TestStart_ResourceFailureStopsStarted(t *testing.T) {
	var stopped bool
	f := newFixture(t, nil, WithResources(
		NewResource("store", nil, func(context.Context) error { stopped = true; return nil }),
		NewResource("redis", func(context.Context) error { return errors.New("connection refused") }, nil),
	))

	err := f.rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start redis")
	assert.True(t, stopped)
	assert.False(t, f.tr.Started())
}

func TestTransportDrivenTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.model.Push(fake.Text("from the pool"))
	require.NoError(t, f.rt.Start(context.Background()))

	require.NoError(t, f.tr.Deliver(context.Background(), inbound("msg-201", "Hi")))

	require.Eventually(t, func() bool { return len(f.tr.SentOf(trmem.SentText)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "from the pool", f.tr.SentOf(trmem.SentText)[0].Text)
}

func TestOverloadShedding(t *testing.T) {
	f := newFixture(t, nil, WithConfig(DefaultConfig().WithMaxConcurrent(1).WithBusyReply("busy")))
	overloaded := collect[InboundEvent](f.rt, event.InboundOverloaded)
	release := make(chan struct{})
	f.model.Push(fake.Reply{Fn: func(ctx context.Context, _ *model.Request) (*model.Response, error) {
		<-release
		return &model.Response{Content: "first done"}, nil
	}})
	require.NoError(t, f.rt.Start(context.Background()))
	gate := f.rt.Gate()

	require.NoError(t, f.tr.Deliver(context.Background(), inbound("m1", "first")))
	require.Eventually(t, func() bool { return gate.InFlight() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.tr.Deliver(context.Background(), inbound("m2", "second")))
	require.Eventually(t, func() bool { return len(overloaded.all()) == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, 1, gate.InFlight())
	assert.Equal(t, 1, gate.Shed())
	assert.Equal(t, "m2", overloaded.all()[0].MessageID)
	texts := f.tr.SentOf(trmem.SentText)
	require.Len(t, texts, 1)
	assert.Equal(t, "busy", texts[0].Text)

	close(release)
	require.Eventually(t, func() bool { return gate.InFlight() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, f.model.Calls())
	assert.Equal(t, "first done", f.tr.SentOf(trmem.SentText)[1].Text)
}

func TestAuthEventsAreForwarded(t *testing.T) {
	f := newFixture(t, nil)
	auth := collect[AuthEvent](f.rt, event.AuthQR)
	failures := collect[AuthEvent](f.rt, event.AuthFailure)
	ready := collect[struct{}](f.rt, event.AuthReady)
	require.NoError(t, f.rt.Start(context.Background()))

	f.tr.EmitAuthQR("2@abc")
	f.tr.EmitAuthFailure(errors.New("logged out"))
	f.tr.EmitAuthReady()

	assert.Equal(t, []AuthEvent{{QR: "2@abc"}}, auth.all())
	assert.Equal(t, []AuthEvent{{Error: "logged out"}}, failures.all())
	assert.Len(t, ready.all(), 1)
}
