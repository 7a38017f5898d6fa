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
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Checkpoint Metadata.Source enumeration values.
const (
	// SourceInput marks a checkpoint created from caller input.
	SourceInput = "input"
	// SourceLoop marks a checkpoint created by a super-step.
	SourceLoop = "loop"
	// SourceInterrupted marks a super-step that ended in an interrupt.
	SourceInterrupted = "interrupted"
)

// checkpointNamespace seeds the deterministic checkpoint ids.
var checkpointNamespace = uuid.MustParse("5b0f5a7e-2d1c-4c39-9a55-6f3b1d9c8e21")

// Metadata describes how a checkpoint was produced.
type Metadata struct {
	// Step is monotonic within a thread, starting at 0.
	Step int `json:"step"`
	// Source is one of SourceInput, SourceLoop, SourceInterrupted.
	Source string `json:"source"`
	// Writes is the diff applied in this step.
	Writes State `json:"writes,omitempty"`
	// Interrupts lists the nodes that suspended in this step.
	Interrupts []InterruptInfo `json:"interrupts,omitempty"`
}

// Checkpoint is an immutable snapshot of a thread after one step.
type Checkpoint struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	ThreadID  string    `json:"thread_id"`
	Values    State     `json:"values"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	// NextTasks is empty exactly when the checkpoint is terminal.
	NextTasks []NodeID `json:"next_tasks"`
}

// IsTerminal reports whether there is nothing left to run.
func (c *Checkpoint) IsTerminal() bool {
	return len(c.NextTasks) == 0
}

// IsInterrupted reports whether the checkpoint was produced by an interrupt.
func (c *Checkpoint) IsInterrupted() bool {
	return c.Metadata.Source == SourceInterrupted
}

// Copy returns a copy that shares no mutable maps or slices with c.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Values = c.Values.Clone()
	if c.Metadata.Writes != nil {
		out.Metadata.Writes = c.Metadata.Writes.Clone()
	}
	out.Metadata.Interrupts = append([]InterruptInfo(nil), c.Metadata.Interrupts...)
	out.NextTasks = append([]NodeID(nil), c.NextTasks...)
	return &out
}

// CheckpointID derives the id of the checkpoint at step in thread whose
// parent is parentID. Replaying the same chain yields the same ids.
func CheckpointID(threadID, parentID string, step int) string {
	name := threadID + "\x00" + parentID + "\x00" + strconv.Itoa(step)
	return uuid.NewSHA1(checkpointNamespace, []byte(name)).String()
}

// LedgerEvent is an audit record appended next to checkpoint writes.
type LedgerEvent struct {
	Topic string         `json:"topic"`
	Key   string         `json:"key"`
	Data  map[string]any `json:"data,omitempty"`
}

// CheckpointSaver stores checkpoint chains keyed by thread id.
// Implementations must provide at least "read latest, append new" atomicity
// per thread.
type CheckpointSaver interface {
	// Put appends a checkpoint to the thread. Putting an existing id replaces it.
	Put(ctx context.Context, threadID string, ck *Checkpoint) error
	// Latest returns the most recently put checkpoint, or nil if none.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	// Get returns the checkpoint with the given id, or nil if none.
	Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)
	// History returns the thread's checkpoints oldest first.
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)
}

// LedgerWriter appends ledger events for a thread.
type LedgerWriter interface {
	AppendLedgerEvent(ctx context.Context, threadID string, ev LedgerEvent) error
}

// LedgerReader reads a thread's ledger in append order.
type LedgerReader interface {
	Ledger(ctx context.Context, threadID string) ([]LedgerEvent, error)
}

// StepWriter is implemented by stores that can commit a checkpoint and the
// ledger events of its step atomically.
type StepWriter interface {
	PutStep(ctx context.Context, threadID string, ck *Checkpoint, ledger []LedgerEvent) error
}

// Store is what the executor needs to persist a thread.
type Store interface {
	CheckpointSaver
	LedgerWriter
}

// MarshalCheckpoint encodes a checkpoint for storage backends.
func MarshalCheckpoint(ck *Checkpoint) ([]byte, error) {
	b, err := json.Marshal(ck)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint %s: %w", ck.ID, err)
	}
	return b, nil
}

// UnmarshalCheckpoint decodes a checkpoint written by MarshalCheckpoint.
// Channel values come back in generic JSON shapes; the executor restores
// them through the graph schema.
func UnmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	var ck Checkpoint
	if err := json.Unmarshal(b, &ck); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if ck.Values == nil {
		ck.Values = State{}
	}
	return &ck, nil
}
