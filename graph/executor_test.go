//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/graph/checkpoint/inmemory"
)

var fixedClock = graph.WithClock(func() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
})

func mustExecutor(t *testing.T, sg *graph.StateGraph, opts ...graph.ExecutorOption) *graph.Executor {
	t.Helper()
	g, err := sg.Compile()
	require.NoError(t, err)
	exec, err := graph.NewExecutor(g, append([]graph.ExecutorOption{fixedClock}, opts...)...)
	require.NoError(t, err)
	return exec
}

func TestStateGraph_CompileErrors(t *testing.T) {
	noop := func(context.Context, graph.View) (*graph.Result, error) { return nil, nil }

	_, err := graph.NewStateGraph(nil).Compile()
	assert.ErrorIs(t, err, graph.ErrEmptyGraph)

	_, err = graph.NewStateGraph(nil).AddNode("a", noop).AddNode("a", noop).Compile()
	assert.Error(t, err)

	_, err = graph.NewStateGraph(nil).AddNode("a", nil).Compile()
	assert.Error(t, err)

	_, err = graph.NewStateGraph(nil).AddNode("a", noop).SetEntryPoint("missing").Compile()
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	g, err := graph.NewStateGraph(nil).AddNode("a", noop).AddNode("b", noop).Compile()
	require.NoError(t, err)
	assert.Equal(t, graph.NodeID("a"), g.EntryPoint())
	assert.Equal(t, []graph.NodeID{"a", "b"}, g.Nodes())
}

func TestExecutor_InvokeConfigValidation(t *testing.T) {
	exec := mustExecutor(t, graph.NewStateGraph(nil).AddNode("a",
		func(context.Context, graph.View) (*graph.Result, error) { return nil, nil }))
	_, err := exec.Invoke(context.Background(), nil, graph.InvokeConfig{Store: inmemory.NewSaver()})
	assert.ErrorIs(t, err, graph.ErrThreadIDRequired)
	_, err = exec.Invoke(context.Background(), nil, graph.InvokeConfig{ThreadID: "t"})
	assert.ErrorIs(t, err, graph.ErrStoreRequired)
}

func TestExecutor_LinearChain(t *testing.T) {
	schema := graph.NewSchema().AddChannel("trail", graph.Field[[]string](graph.Append))
	sg := graph.NewStateGraph(schema).
		AddNode("a", func(ctx context.Context, v graph.View) (*graph.Result, error) {
			info, ok := graph.ExecInfoFromContext(ctx)
			assert.True(t, ok)
			assert.Equal(t, "t1", info.ThreadID)
			assert.Equal(t, graph.NodeID("a"), info.Node)
			return &graph.Result{
				Update: graph.State{"trail": []string{"a"}},
				Ledger: []graph.LedgerEvent{{Topic: "visited", Data: map[string]any{"node": "a"}}},
				Next:   []graph.NodeID{"b"},
			}, nil
		}).
		AddNode("b", func(_ context.Context, v graph.View) (*graph.Result, error) {
			assert.Equal(t, "hello", graph.ValueOr(v, "input", ""))
			return &graph.Result{Update: graph.State{"trail": []string{"b"}}}, nil
		})
	exec := mustExecutor(t, sg)
	store := inmemory.NewSaver()

	final, err := exec.Invoke(context.Background(), graph.State{"input": "hello"},
		graph.InvokeConfig{ThreadID: "t1", Store: store})
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	assert.Equal(t, 2, final.Metadata.Step)
	assert.Equal(t, []string{"a", "b"}, final.Values["trail"])

	history, err := store.History(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, graph.SourceInput, history[0].Metadata.Source)
	assert.Equal(t, []graph.NodeID{"a"}, history[0].NextTasks)
	assert.Equal(t, graph.SourceLoop, history[1].Metadata.Source)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].ID, history[i].ParentID)
	}

	timings, ok := final.Values[graph.ChannelNodeTimings].([]graph.NodeTiming)
	require.True(t, ok)
	require.Len(t, timings, 2)
	assert.Equal(t, graph.NodeID("a"), timings[0].Node)
	assert.Equal(t, graph.NodeResultOK, timings[1].Result)

	ledger, err := store.Ledger(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "visited", ledger[0].Topic)
	assert.Equal(t, "t1", ledger[0].Key, "empty key defaults to the thread")
}

func TestExecutor_DeterministicChain(t *testing.T) {
	build := func() *graph.Executor {
		return mustExecutor(t, graph.NewStateGraph(nil).
			AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
				return &graph.Result{Update: graph.State{"x": 1}, Next: []graph.NodeID{"b"}}, nil
			}).
			AddNode("b", func(context.Context, graph.View) (*graph.Result, error) {
				return &graph.Result{Update: graph.State{"y": 2}}, nil
			}))
	}
	ids := func(store *inmemory.Saver) []string {
		history, err := store.History(context.Background(), "same")
		require.NoError(t, err)
		out := make([]string, len(history))
		for i, ck := range history {
			out[i] = ck.ID
		}
		return out
	}
	s1, s2 := inmemory.NewSaver(), inmemory.NewSaver()
	_, err := build().Invoke(context.Background(), graph.State{"in": "v"}, graph.InvokeConfig{ThreadID: "same", Store: s1})
	require.NoError(t, err)
	_, err = build().Invoke(context.Background(), graph.State{"in": "v"}, graph.InvokeConfig{ThreadID: "same", Store: s2})
	require.NoError(t, err)
	assert.Equal(t, ids(s1), ids(s2))
}

func TestExecutor_MaxStepsExceeded(t *testing.T) {
	var runs atomic.Int32
	sg := graph.NewStateGraph(nil).AddNode("loop", func(context.Context, graph.View) (*graph.Result, error) {
		runs.Add(1)
		return graph.Goto("loop"), nil
	})
	exec := mustExecutor(t, sg, graph.WithMaxSteps(5))
	_, err := exec.Invoke(context.Background(), nil, graph.InvokeConfig{ThreadID: "t", Store: inmemory.NewSaver()})
	require.ErrorIs(t, err, graph.ErrMaxStepsExceeded)
	assert.Equal(t, int32(5), runs.Load())
}

func TestExecutor_ErrorAbortsWithoutPersisting(t *testing.T) {
	fail := true
	sg := graph.NewStateGraph(nil).
		AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
			return &graph.Result{Update: graph.State{"a": true}, Next: []graph.NodeID{"b"}}, nil
		}).
		AddNode("b", func(context.Context, graph.View) (*graph.Result, error) {
			if fail {
				return nil, errors.New("database unavailable")
			}
			return &graph.Result{Update: graph.State{"b": true}}, nil
		})
	exec := mustExecutor(t, sg)
	store := inmemory.NewSaver()
	cfg := graph.InvokeConfig{ThreadID: "t", Store: store}

	_, err := exec.Invoke(context.Background(), nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")

	latest, err := store.Latest(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"b"}, latest.NextTasks)
	assert.Equal(t, 1, latest.Metadata.Step)

	// A retry resumes at b without re-running a.
	fail = false
	final, err := exec.Invoke(context.Background(), nil, cfg)
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	assert.Equal(t, true, final.Values["b"])
	assert.Equal(t, 2, final.Metadata.Step)
}

func TestExecutor_PanicAbortsStep(t *testing.T) {
	sg := graph.NewStateGraph(nil).AddNode("boom", func(context.Context, graph.View) (*graph.Result, error) {
		panic("bad state")
	})
	exec := mustExecutor(t, sg)
	_, err := exec.Invoke(context.Background(), nil, graph.InvokeConfig{ThreadID: "t", Store: inmemory.NewSaver()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestExecutor_ResumesWithoutRerunningCompletedNodes(t *testing.T) {
	var aRuns, bRuns atomic.Int32
	sg := graph.NewStateGraph(nil).
		AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
			aRuns.Add(1)
			return graph.Goto("b"), nil
		}).
		AddNode("b", func(context.Context, graph.View) (*graph.Result, error) {
			bRuns.Add(1)
			return &graph.Result{Update: graph.State{"done": true}}, nil
		})
	exec := mustExecutor(t, sg)
	store := inmemory.NewSaver()
	ctx := context.Background()

	// Persist a non-terminal checkpoint whose frontier is b.
	parent := &graph.Checkpoint{
		ID: graph.CheckpointID("t", "", 0), ThreadID: "t",
		Values: graph.State{}, Metadata: graph.Metadata{Source: graph.SourceInput},
		NextTasks: []graph.NodeID{"b"},
	}
	require.NoError(t, store.Put(ctx, "t", parent))

	final, err := exec.Invoke(ctx, nil, graph.InvokeConfig{ThreadID: "t", Store: store})
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	assert.Equal(t, int32(0), aRuns.Load())
	assert.Equal(t, int32(1), bRuns.Load())
	assert.Equal(t, parent.ID, final.ParentID)
}

func TestExecutor_EntrypointOverride(t *testing.T) {
	var visited []graph.NodeID
	node := func(id graph.NodeID) graph.NodeFunc {
		return func(context.Context, graph.View) (*graph.Result, error) {
			visited = append(visited, id)
			return nil, nil
		}
	}
	exec := mustExecutor(t, graph.NewStateGraph(nil).AddNode("a", node("a")).AddNode("b", node("b")))
	store := inmemory.NewSaver()
	ctx := context.Background()

	_, err := exec.Invoke(ctx, graph.State{"n": 1}, graph.InvokeConfig{ThreadID: "t", Store: store})
	require.NoError(t, err)
	final, err := exec.Invoke(ctx, graph.State{"m": 2}, graph.InvokeConfig{ThreadID: "t", Store: store, Entrypoint: "b"})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"a", "b"}, visited)
	assert.Equal(t, 1, final.Values["n"], "existing values are preserved")
	assert.Equal(t, 2, final.Values["m"])

	_, err = exec.Invoke(ctx, nil, graph.InvokeConfig{ThreadID: "t", Store: store, Entrypoint: "zzz"})
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestExecutor_ConcurrentInvokeSameThread(t *testing.T) {
	schema := graph.NewSchema().AddChannel("trail", graph.Field[[]string](graph.Append))
	sg := graph.NewStateGraph(schema).AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
		time.Sleep(time.Millisecond)
		return &graph.Result{
			Update: graph.State{"trail": []string{"a"}},
			Ledger: []graph.LedgerEvent{{Topic: "visited"}},
		}, nil
	})
	exec := mustExecutor(t, sg)
	store := inmemory.NewSaver()
	cfg := graph.InvokeConfig{ThreadID: "turn:msg-900", Store: store, Entrypoint: "a"}

	const callers = 6
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := exec.Invoke(context.Background(), graph.State{"caller": i}, cfg)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	ctx := context.Background()
	history, err := store.History(ctx, cfg.ThreadID)
	require.NoError(t, err)
	require.Len(t, history, 2*callers, "every call keeps its input and loop checkpoints")
	seen := map[string]bool{}
	for i, ck := range history {
		assert.False(t, seen[ck.ID], "checkpoint %s stored twice", ck.ID)
		seen[ck.ID] = true
		assert.Equal(t, i, ck.Metadata.Step)
		if i > 0 {
			assert.Equal(t, history[i-1].ID, ck.ParentID)
		}
	}
	latest, err := store.Latest(ctx, cfg.ThreadID)
	require.NoError(t, err)
	assert.Len(t, latest.Values["trail"], callers)
	ledger, err := store.Ledger(ctx, cfg.ThreadID)
	require.NoError(t, err)
	assert.Len(t, ledger, callers)
}

func TestExecutor_InvokeHonoursContextWhileThreadBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	sg := graph.NewStateGraph(nil).AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
		close(entered)
		<-release
		return nil, nil
	})
	exec := mustExecutor(t, sg)
	cfg := graph.InvokeConfig{ThreadID: "t", Store: inmemory.NewSaver()}

	done := make(chan error, 1)
	go func() {
		_, err := exec.Invoke(context.Background(), nil, cfg)
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := exec.Invoke(ctx, nil, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

// ledgerOnly hides any StepWriter of the wrapped store.
type ledgerOnly struct {
	graph.Store
	fail atomic.Bool
}

func (s *ledgerOnly) AppendLedgerEvent(ctx context.Context, threadID string, ev graph.LedgerEvent) error {
	if s.fail.Load() {
		return errors.New("ledger unavailable")
	}
	return s.Store.AppendLedgerEvent(ctx, threadID, ev)
}

func visitingGraph() *graph.StateGraph {
	return graph.NewStateGraph(nil).
		AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
			return &graph.Result{
				Update: graph.State{"a": true},
				Ledger: []graph.LedgerEvent{{Topic: "visited", Data: map[string]any{"node": "a"}}},
			}, nil
		})
}

func TestExecutor_LedgerFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	exec := mustExecutor(t, visitingGraph())
	saver := inmemory.NewSaver()
	store := &ledgerOnly{Store: saver}
	store.fail.Store(true)
	cfg := graph.InvokeConfig{ThreadID: "t", Store: store}
	ctx := context.Background()

	_, err := exec.Invoke(ctx, nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")

	latest, err := saver.Latest(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Metadata.Step)
	assert.Equal(t, []graph.NodeID{"a"}, latest.NextTasks)

	store.fail.Store(false)
	final, err := exec.Invoke(ctx, nil, cfg)
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	ledger, err := saver.Ledger(ctx, "t")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "visited", ledger[0].Topic)
}

type stepRecorder struct {
	*inmemory.Saver
	steps   int
	appends int
}

func (s *stepRecorder) PutStep(ctx context.Context, threadID string, ck *graph.Checkpoint, ledger []graph.LedgerEvent) error {
	s.steps++
	return s.Saver.PutStep(ctx, threadID, ck, ledger)
}

func (s *stepRecorder) AppendLedgerEvent(ctx context.Context, threadID string, ev graph.LedgerEvent) error {
	s.appends++
	return s.Saver.AppendLedgerEvent(ctx, threadID, ev)
}

func TestExecutor_StepWriterCommitsLedgerWithCheckpoint(t *testing.T) {
	exec := mustExecutor(t, visitingGraph())
	store := &stepRecorder{Saver: inmemory.NewSaver()}
	ctx := context.Background()

	_, err := exec.Invoke(ctx, nil, graph.InvokeConfig{ThreadID: "t", Store: store})
	require.NoError(t, err)
	assert.Equal(t, 2, store.steps)
	assert.Zero(t, store.appends)
	ledger, err := store.Ledger(ctx, "t")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "t", ledger[0].Key)
}

func TestExecutor_ConcurrentFrontierMerge(t *testing.T) {
	schema := graph.NewSchema().AddChannel("results", graph.Field[[]string](graph.Append))
	sg := graph.NewStateGraph(schema).
		AddNode("fanout", func(context.Context, graph.View) (*graph.Result, error) {
			return graph.Goto("left", "right", "left"), nil
		}).
		AddNode("left", func(context.Context, graph.View) (*graph.Result, error) {
			time.Sleep(10 * time.Millisecond)
			return &graph.Result{Update: graph.State{"results": []string{"left"}}, Next: []graph.NodeID{"join"}}, nil
		}).
		AddNode("right", func(context.Context, graph.View) (*graph.Result, error) {
			return &graph.Result{Update: graph.State{"results": []string{"right"}}, Next: []graph.NodeID{"join"}}, nil
		}).
		AddNode("join", func(_ context.Context, v graph.View) (*graph.Result, error) {
			got, _ := graph.Value[[]string](v, "results")
			return &graph.Result{Update: graph.State{"joined": len(got)}}, nil
		})
	exec := mustExecutor(t, sg)

	final, err := exec.Invoke(context.Background(), nil, graph.InvokeConfig{ThreadID: "t", Store: inmemory.NewSaver()})
	require.NoError(t, err)
	// Diffs fold in frontier order regardless of completion order.
	assert.Equal(t, []string{"left", "right"}, final.Values["results"])
	assert.Equal(t, 2, final.Values["joined"])
	assert.Equal(t, 3, final.Metadata.Step, "join runs once")
}

func TestExecutor_InterruptAndResume(t *testing.T) {
	sg := graph.NewStateGraph(nil).
		AddNode("ask", func(_ context.Context, v graph.View) (*graph.Result, error) {
			answer, ok := graph.Value[string](v, "answer")
			if !ok {
				return nil, graph.Interrupt("need answer")
			}
			return &graph.Result{Update: graph.State{"echo": answer}}, nil
		})
	exec := mustExecutor(t, sg)
	store := inmemory.NewSaver()
	ctx := context.Background()
	cfg := graph.InvokeConfig{ThreadID: "t", Store: store}

	_, err := exec.Resume(ctx, nil, cfg)
	require.ErrorIs(t, err, graph.ErrNoCheckpoint)

	suspended, err := exec.Invoke(ctx, nil, cfg)
	require.NoError(t, err)
	assert.True(t, suspended.IsInterrupted())
	assert.Equal(t, []graph.NodeID{"ask"}, suspended.NextTasks)
	require.Len(t, suspended.Metadata.Interrupts, 1)
	assert.Equal(t, "need answer", suspended.Metadata.Interrupts[0].Value)

	final, err := exec.Resume(ctx, graph.State{"answer": "yes"}, cfg)
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	assert.Equal(t, "yes", final.Values["echo"])

	_, err = exec.Resume(ctx, nil, cfg)
	assert.ErrorIs(t, err, graph.ErrThreadTerminal)
}

func TestExecutor_UnknownNextNode(t *testing.T) {
	sg := graph.NewStateGraph(nil).AddNode("a", func(context.Context, graph.View) (*graph.Result, error) {
		return graph.Goto("ghost"), nil
	})
	exec := mustExecutor(t, sg)
	_, err := exec.Invoke(context.Background(), nil, graph.InvokeConfig{ThreadID: "t", Store: inmemory.NewSaver()})
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}
