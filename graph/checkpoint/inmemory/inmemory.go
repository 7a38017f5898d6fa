//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint and ledger storage for
// graph execution state persistence and recovery.
package inmemory

import (
	"context"
	"sync"

	"github.com/jovemexausto/zupa/graph"
)

// Saver provides an in-memory implementation of graph.Store and
// graph.LedgerReader. It is suitable for tests and single-process runs.
type Saver struct {
	mu      sync.RWMutex
	threads map[string][]*graph.Checkpoint // threadID -> checkpoints, oldest first
	ledger  map[string][]graph.LedgerEvent // threadID -> events
	// maxCheckpointsPerThread limits the history kept per thread; 0 means unlimited.
	maxCheckpointsPerThread int
}

var (
	_ graph.Store        = (*Saver)(nil)
	_ graph.StepWriter   = (*Saver)(nil)
	_ graph.LedgerReader = (*Saver)(nil)
)

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		threads: make(map[string][]*graph.Checkpoint),
		ledger:  make(map[string][]graph.LedgerEvent),
	}
}

// WithMaxCheckpointsPerThread sets the maximum number of checkpoints kept per
// thread. Older checkpoints are dropped first.
func (s *Saver) WithMaxCheckpointsPerThread(max int) *Saver {
	s.maxCheckpointsPerThread = max
	return s
}

// Put appends ck to the thread, replacing a checkpoint with the same id.
func (s *Saver) Put(_ context.Context, threadID string, ck *graph.Checkpoint) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(threadID, ck)
	return nil
}

// PutStep stores ck and its step's ledger events under one lock.
func (s *Saver) PutStep(_ context.Context, threadID string, ck *graph.Checkpoint, ledger []graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range ledger {
		ev.Data = copyData(ev.Data)
		s.ledger[threadID] = append(s.ledger[threadID], ev)
	}
	s.put(threadID, ck)
	return nil
}

func (s *Saver) put(threadID string, ck *graph.Checkpoint) {
	chain := s.threads[threadID]
	stored := ck.Copy()
	for i, existing := range chain {
		if existing.ID == ck.ID {
			// Replacing moves the checkpoint to the head of the chain.
			chain = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	chain = append(chain, stored)
	if s.maxCheckpointsPerThread > 0 && len(chain) > s.maxCheckpointsPerThread {
		chain = chain[len(chain)-s.maxCheckpointsPerThread:]
	}
	s.threads[threadID] = chain
}

// Latest returns the most recent checkpoint, or nil.
func (s *Saver) Latest(_ context.Context, threadID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.threads[threadID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1].Copy(), nil
}

// Get returns the checkpoint with the given id, or nil.
func (s *Saver) Get(_ context.Context, threadID, checkpointID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ck := range s.threads[threadID] {
		if ck.ID == checkpointID {
			return ck.Copy(), nil
		}
	}
	return nil, nil
}

// History returns the thread's checkpoints oldest first.
func (s *Saver) History(_ context.Context, threadID string) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.threads[threadID]
	out := make([]*graph.Checkpoint, len(chain))
	for i, ck := range chain {
		out[i] = ck.Copy()
	}
	return out, nil
}

// AppendLedgerEvent records ev for the thread.
func (s *Saver) AppendLedgerEvent(_ context.Context, threadID string, ev graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Data = copyData(ev.Data)
	s.ledger[threadID] = append(s.ledger[threadID], ev)
	return nil
}

// Ledger returns the thread's ledger events in append order.
func (s *Saver) Ledger(_ context.Context, threadID string) ([]graph.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.ledger[threadID]
	out := make([]graph.LedgerEvent, len(events))
	for i, ev := range events {
		ev.Data = copyData(ev.Data)
		out[i] = ev
	}
	return out, nil
}

// DeleteThread removes every checkpoint and ledger event of the thread.
func (s *Saver) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	delete(s.ledger, threadID)
	return nil
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
