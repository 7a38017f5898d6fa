//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // Import SQLite driver.
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/graph/checkpoint/checkpointtest"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSaver(t *testing.T) *Saver {
	saver, err := NewSaver(setupTestDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { saver.Close() })
	return saver
}

func TestSaver(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpointtest.Store { return newSaver(t) })
}

func TestNewSaver_NilDB(t *testing.T) {
	_, err := NewSaver(nil)
	assert.Error(t, err)
}

func TestSaver_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	saver, err := NewSaver(db)
	require.NoError(t, err)
	ck := checkpointtest.NewCheckpoint("t", nil, graph.State{"count": 2}, "next")
	require.NoError(t, saver.Put(ctx, "t", ck))
	require.NoError(t, db.Close())

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	saver, err = NewSaver(db)
	require.NoError(t, err)

	got, err := saver.Latest(ctx, "t")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ck.ID, got.ID)
	// JSON numbers come back as float64; graph.Schema.Restore converts them.
	assert.Equal(t, float64(2), got.Values["count"])
	assert.Equal(t, []graph.NodeID{"next"}, got.NextTasks)
}

func TestSaver_DeleteThread(t *testing.T) {
	ctx := context.Background()
	saver := newSaver(t)
	require.NoError(t, saver.Put(ctx, "t", checkpointtest.NewCheckpoint("t", nil, nil)))
	require.NoError(t, saver.AppendLedgerEvent(ctx, "t", graph.LedgerEvent{Topic: "x", Key: "t"}))
	require.NoError(t, saver.DeleteThread(ctx, "t"))

	history, err := saver.History(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, history)
	events, err := saver.Ledger(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, events)
}
