//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint and ledger storage for
// graph execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jovemexausto/zupa/graph"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"step INTEGER NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"UNIQUE (thread_id, checkpoint_id)" +
		")"

	sqliteCreateLedger = "CREATE TABLE IF NOT EXISTS ledger_events (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"thread_id TEXT NOT NULL, " +
		"topic TEXT NOT NULL, " +
		"event_key TEXT NOT NULL, " +
		"data_json BLOB" +
		")"

	sqliteCreateLedgerIndex = "CREATE INDEX IF NOT EXISTS idx_ledger_events_thread " +
		"ON ledger_events (thread_id, seq)"

	// Replacing an existing id deletes the old row, so it moves to the head.
	sqliteInsertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"thread_id, checkpoint_id, parent_checkpoint_id, step, ts, checkpoint_json) " +
		"VALUES (?, ?, ?, ?, ?, ?)"

	sqliteSelectLatest = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectByID = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_id = ? LIMIT 1"

	sqliteSelectHistory = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq ASC"

	sqliteInsertLedger = "INSERT INTO ledger_events (thread_id, topic, event_key, data_json) " +
		"VALUES (?, ?, ?, ?)"

	sqliteSelectLedger = "SELECT topic, event_key, data_json FROM ledger_events " +
		"WHERE thread_id = ? ORDER BY seq ASC"

	sqliteDeleteThreadCkpts  = "DELETE FROM checkpoints WHERE thread_id = ?"
	sqliteDeleteThreadLedger = "DELETE FROM ledger_events WHERE thread_id = ?"
)

// Saver is a SQLite-backed implementation of graph.Store and
// graph.LedgerReader. It stores each checkpoint as one JSON blob.
type Saver struct {
	db *sql.DB
}

var (
	_ graph.Store        = (*Saver)(nil)
	_ graph.StepWriter   = (*Saver)(nil)
	_ graph.LedgerReader = (*Saver)(nil)
)

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	for _, stmt := range []string{sqliteCreateCheckpoints, sqliteCreateLedger, sqliteCreateLedgerIndex} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create checkpoint schema: %w", err)
		}
	}
	return &Saver{db: db}, nil
}

// Put stores ck as the newest checkpoint of the thread.
func (s *Saver) Put(ctx context.Context, threadID string, ck *graph.Checkpoint) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	return insertCheckpoint(ctx, s.db, threadID, ck)
}

// PutStep stores ck and its step's ledger events in one transaction.
func (s *Saver) PutStep(ctx context.Context, threadID string, ck *graph.Checkpoint, ledger []graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, ev := range ledger {
		if err := insertLedgerEvent(ctx, tx, threadID, ev); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := insertCheckpoint(ctx, tx, threadID, ck); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCheckpoint(ctx context.Context, db execer, threadID string, ck *graph.Checkpoint) error {
	blob, err := graph.MarshalCheckpoint(ck)
	if err != nil {
		return err
	}
	var parent any
	if ck.ParentID != "" {
		parent = ck.ParentID
	}
	_, err = db.ExecContext(ctx, sqliteInsertCheckpoint,
		threadID, ck.ID, parent, ck.Metadata.Step, ck.CreatedAt.UnixNano(), blob)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func insertLedgerEvent(ctx context.Context, db execer, threadID string, ev graph.LedgerEvent) error {
	var data []byte
	if ev.Data != nil {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("marshal ledger data: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteInsertLedger, threadID, ev.Topic, ev.Key, data); err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint of the thread, or nil.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	return s.queryOne(ctx, sqliteSelectLatest, threadID)
}

// Get returns the checkpoint with the given id, or nil.
func (s *Saver) Get(ctx context.Context, threadID, checkpointID string) (*graph.Checkpoint, error) {
	return s.queryOne(ctx, sqliteSelectByID, threadID, checkpointID)
}

func (s *Saver) queryOne(ctx context.Context, query string, args ...any) (*graph.Checkpoint, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return graph.UnmarshalCheckpoint(blob)
}

// History returns every checkpoint of the thread, oldest first.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectHistory, threadID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []*graph.Checkpoint
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		ck, err := graph.UnmarshalCheckpoint(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, ck)
	}
	return out, rows.Err()
}

// AppendLedgerEvent records ev for the thread.
func (s *Saver) AppendLedgerEvent(ctx context.Context, threadID string, ev graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	return insertLedgerEvent(ctx, s.db, threadID, ev)
}

// Ledger returns the thread's ledger events in append order.
func (s *Saver) Ledger(ctx context.Context, threadID string) ([]graph.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectLedger, threadID)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var out []graph.LedgerEvent
	for rows.Next() {
		var (
			ev   graph.LedgerEvent
			data []byte
		)
		if err := rows.Scan(&ev.Topic, &ev.Key, &data); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshal ledger data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteThread removes every checkpoint and ledger event of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteDeleteThreadCkpts, threadID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteDeleteThreadLedger, threadID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete ledger: %w", err)
	}
	return tx.Commit()
}

// Close releases resources held by the saver. The DB is owned by the caller.
func (s *Saver) Close() error { return nil }
