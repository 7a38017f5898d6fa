//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/graph/checkpoint/checkpointtest"
)

func newTestSaver(t *testing.T, opts ...Option) (*Saver, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s, err := NewSaver(client, opts...)
	require.NoError(t, err)
	return s, mr
}

func TestSaver(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpointtest.Store {
		s, _ := newTestSaver(t)
		return s
	})
}

func TestNewSaver_NilClient(t *testing.T) {
	_, err := NewSaver(nil)
	assert.Error(t, err)
}

func TestSaver_KeyPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestSaver(t, WithKeyPrefix("test"), WithTTL(time.Hour))
	require.NoError(t, s.Put(ctx, "t1", checkpointtest.NewCheckpoint("t1", nil, graph.State{"a": "b"})))
	require.NoError(t, s.AppendLedgerEvent(ctx, "t1", graph.LedgerEvent{Topic: "x", Key: "t1"}))

	assert.True(t, mr.Exists("test:t1:chain"))
	assert.True(t, mr.Exists("test:t1:ckpt"))
	assert.True(t, mr.Exists("test:t1:ledger"))
	assert.Equal(t, time.Hour, mr.TTL("test:t1:chain"))

	mr.FastForward(2 * time.Hour)
	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSaver_DeleteThread(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestSaver(t)
	require.NoError(t, s.Put(ctx, "t", checkpointtest.NewCheckpoint("t", nil, nil)))
	require.NoError(t, s.DeleteThread(ctx, "t"))
	assert.False(t, mr.Exists(defaultKeyPrefix+":t:chain"))
}

func TestNewSaverFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewSaverFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "t", checkpointtest.NewCheckpoint("t", nil, nil)))
	require.NoError(t, s.Close())
}
