//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides redis-based checkpoint and ledger storage.
//
// Each thread uses three keys: a list holding checkpoint ids in chain order,
// a hash from checkpoint id to its JSON encoding, and a list of ledger events.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jovemexausto/zupa/graph"
	zredis "github.com/jovemexausto/zupa/storage/redis"
)

const defaultKeyPrefix = "zupa:ckpt"

// Saver is a redis-backed implementation of graph.Store and graph.LedgerReader.
type Saver struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

var (
	_ graph.Store        = (*Saver)(nil)
	_ graph.StepWriter   = (*Saver)(nil)
	_ graph.LedgerReader = (*Saver)(nil)
)

// Option configures a Saver.
type Option func(*Saver)

// WithKeyPrefix sets the prefix of every key the saver writes.
func WithKeyPrefix(prefix string) Option {
	return func(s *Saver) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires a thread's keys ttl after its last write. Zero keeps them.
func WithTTL(ttl time.Duration) Option {
	return func(s *Saver) { s.ttl = ttl }
}

// NewSaver wraps an existing client. The caller keeps ownership of it.
func NewSaver(client redis.UniversalClient, opts ...Option) (*Saver, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	s := &Saver{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSaverFromURL connects to a registered instance name or redis URL.
// Close releases the client.
func NewSaverFromURL(ctx context.Context, nameOrURL string, opts ...Option) (*Saver, error) {
	client, err := zredis.Connect(ctx, nameOrURL)
	if err != nil {
		return nil, err
	}
	s, err := NewSaver(client, opts...)
	if err != nil {
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *Saver) chainKey(threadID string) string  { return s.prefix + ":" + threadID + ":chain" }
func (s *Saver) blobKey(threadID string) string   { return s.prefix + ":" + threadID + ":ckpt" }
func (s *Saver) ledgerKey(threadID string) string { return s.prefix + ":" + threadID + ":ledger" }

// Put stores ck as the newest checkpoint of the thread.
func (s *Saver) Put(ctx context.Context, threadID string, ck *graph.Checkpoint) error {
	return s.PutStep(ctx, threadID, ck, nil)
}

// PutStep stores ck and its step's ledger events in one MULTI/EXEC block.
func (s *Saver) PutStep(ctx context.Context, threadID string, ck *graph.Checkpoint, ledger []graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	blob, err := graph.MarshalCheckpoint(ck)
	if err != nil {
		return err
	}
	events := make([]any, len(ledger))
	for i, ev := range ledger {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal ledger event: %w", err)
		}
		events[i] = b
	}
	chain, blobs, led := s.chainKey(threadID), s.blobKey(threadID), s.ledgerKey(threadID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(events) > 0 {
			pipe.RPush(ctx, led, events...)
		}
		pipe.LRem(ctx, chain, 0, ck.ID)
		pipe.RPush(ctx, chain, ck.ID)
		pipe.HSet(ctx, blobs, ck.ID, blob)
		if s.ttl > 0 {
			pipe.Expire(ctx, chain, s.ttl)
			pipe.Expire(ctx, blobs, s.ttl)
			if len(events) > 0 {
				pipe.Expire(ctx, led, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint of the thread, or nil.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	id, err := s.client.LIndex(ctx, s.chainKey(threadID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis latest checkpoint: %w", err)
	}
	return s.Get(ctx, threadID, id)
}

// Get returns the checkpoint with the given id, or nil.
func (s *Saver) Get(ctx context.Context, threadID, checkpointID string) (*graph.Checkpoint, error) {
	blob, err := s.client.HGet(ctx, s.blobKey(threadID), checkpointID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return graph.UnmarshalCheckpoint(blob)
}

// History returns every checkpoint of the thread, oldest first.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	ids, err := s.client.LRange(ctx, s.chainKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	blobs, err := s.client.HMGet(ctx, s.blobKey(threadID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(blobs))
	for i, raw := range blobs {
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("redis history: checkpoint %s missing", ids[i])
		}
		ck, err := graph.UnmarshalCheckpoint([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, ck)
	}
	return out, nil
}

// AppendLedgerEvent records ev for the thread.
func (s *Saver) AppendLedgerEvent(ctx context.Context, threadID string, ev graph.LedgerEvent) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	key := s.ledgerKey(threadID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, blob)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append ledger event: %w", err)
	}
	return nil
}

// Ledger returns the thread's ledger events in append order.
func (s *Saver) Ledger(ctx context.Context, threadID string) ([]graph.LedgerEvent, error) {
	raws, err := s.client.LRange(ctx, s.ledgerKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger: %w", err)
	}
	out := make([]graph.LedgerEvent, 0, len(raws))
	for _, raw := range raws {
		var ev graph.LedgerEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal ledger event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteThread removes every key of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, s.chainKey(threadID), s.blobKey(threadID), s.ledgerKey(threadID)).Err()
}

// Close closes the client when the saver created it.
func (s *Saver) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
