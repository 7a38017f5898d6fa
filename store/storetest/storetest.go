//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package storetest checks a store.Store implementation against the
// behaviour the turn pipeline relies on.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises every repository of a store produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("PreferencesMerge", func(t *testing.T) { testPreferences(t, newStore(t)) })
	t.Run("SingleActiveSession", func(t *testing.T) { testSingleActive(t, newStore(t)) })
	t.Run("EndSession", func(t *testing.T) { testEndSession(t, newStore(t)) })
	t.Run("RecentSummaries", func(t *testing.T) { testRecentSummaries(t, newStore(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, newStore(t)) })
	t.Run("RecentMessages", func(t *testing.T) { testRecentMessages(t, newStore(t)) })
	t.Run("KV", func(t *testing.T) { testKV(t, newStore(t)) })
	t.Run("ClaimInboundEvent", func(t *testing.T) { testClaim(t, newStore(t)) })
}

func mustUser(t *testing.T, s store.Store, ext string) *store.User {
	t.Helper()
	u := &store.User{ExternalUserID: ext, DisplayName: ext, CreatedAt: base}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NotEmpty(t, u.ID)
	return u
}

func mustSession(t *testing.T, s store.Store, userID string, at time.Time) *store.Session {
	t.Helper()
	sess := &store.Session{UserID: userID, StartedAt: at}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	require.NotEmpty(t, sess.ID)
	return sess
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.FindUserByExternalID(ctx, "+5511")
	require.NoError(t, err)
	assert.Nil(t, missing)

	u := mustUser(t, s, "+5511")
	found, err := s.FindUserByExternalID(ctx, "+5511")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, u.ID, found.ID)
	assert.Equal(t, "+5511", found.DisplayName)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ExternalUserID, got.ExternalUserID)

	_, err = s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	later := base.Add(time.Hour)
	require.NoError(t, s.TouchUserLastActive(ctx, u.ID, later))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastActiveAt))
	assert.ErrorIs(t, s.TouchUserLastActive(ctx, "nope", later), store.ErrNotFound)

	dup := &store.User{ExternalUserID: "+5511", CreatedAt: base}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrConflict)
}

func testPreferences(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")

	updated, err := s.UpdateUserPreferences(ctx, u.ID, map[string]any{store.PrefReplyFormat: store.ReplyFormatVoice})
	require.NoError(t, err)
	assert.Equal(t, store.ReplyFormatVoice, updated.Preference(store.PrefReplyFormat))

	updated, err = s.UpdateUserPreferences(ctx, u.ID, map[string]any{store.PrefVerbosity: "short"})
	require.NoError(t, err)
	assert.Equal(t, store.ReplyFormatVoice, updated.Preference(store.PrefReplyFormat))
	assert.Equal(t, "short", updated.Preference(store.PrefVerbosity))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "short", got.Preference(store.PrefVerbosity))

	_, err = s.UpdateUserPreferences(ctx, "nope", map[string]any{"a": "b"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSingleActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "bob")

	none, err := s.ActiveSession(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	first := mustSession(t, s, u.ID, base)
	active, err := s.ActiveSession(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	assert.ErrorIs(t, s.CreateSession(ctx, &store.Session{UserID: u.ID, StartedAt: base}), store.ErrConflict)

	require.NoError(t, s.EndSession(ctx, first.ID, "", base.Add(time.Minute)))
	second := mustSession(t, s, u.ID, base.Add(2*time.Minute))
	active, err = s.ActiveSession(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	other := mustUser(t, s, "carol")
	mustSession(t, s, other.ID, base)
}

func testEndSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "dave")
	sess := mustSession(t, s, u.ID, base)

	end := base.Add(time.Hour)
	require.NoError(t, s.EndSession(ctx, sess.ID, "talked about trains", end))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
	require.NotNil(t, got.EndedAt)
	assert.True(t, end.Equal(*got.EndedAt))
	assert.Equal(t, "talked about trains", got.Summary)

	assert.ErrorIs(t, s.EndSession(ctx, sess.ID, "again", end), store.ErrSessionEnded)
	assert.ErrorIs(t, s.EndSession(ctx, "nope", "", end), store.ErrNotFound)
	_, err = s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRecentSummaries(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "erin")
	for i := 0; i < 4; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		sess := mustSession(t, s, u.ID, start)
		summary := fmt.Sprintf("summary %d", i)
		if i == 1 {
			summary = ""
		}
		require.NoError(t, s.EndSession(ctx, sess.ID, summary, start.Add(30*time.Minute)))
	}
	mustSession(t, s, u.ID, base.Add(10*time.Hour))

	got, err := s.RecentSummaries(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "summary 3", got[0].Summary)
	assert.Equal(t, "summary 2", got[1].Summary)

	all, err := s.RecentSummaries(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "summary 0", all[2].Summary)
}

func testCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "frank")
	sess := mustSession(t, s, u.ID, base)

	n, err := s.IncrementMessageCount(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.IncrementMessageCount(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = s.IncrementMessageCount(ctx, "nope", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	touched := base.Add(5 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, sess.ID, touched))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
	assert.True(t, touched.Equal(got.LastActiveAt))
	assert.True(t, got.IdleFor(time.Minute, touched.Add(2*time.Minute)))
	assert.False(t, got.IdleFor(time.Hour, touched.Add(2*time.Minute)))
	assert.ErrorIs(t, s.TouchSession(ctx, "nope", touched), store.ErrNotFound)
}

func testRecentMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "gina")
	sess := mustSession(t, s, u.ID, base)
	other := mustSession(t, s, mustUser(t, s, "hank").ID, base)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, &store.Message{
			SessionID:     sess.ID,
			UserID:        u.ID,
			Role:          store.RoleUser,
			ContentText:   fmt.Sprintf("m%d", i),
			InputModality: store.ModalityText,
			Metadata:      map[string]any{"i": i},
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendMessage(ctx, &store.Message{
		SessionID: other.ID, UserID: other.UserID, Role: store.RoleUser, ContentText: "elsewhere",
	}))

	got, err := s.RecentMessages(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ContentText)
	assert.Equal(t, "m4", got[2].ContentText)
	assert.Equal(t, store.RoleUser, got[0].Role)
	assert.Equal(t, store.ModalityText, got[0].InputModality)
	assert.NotEmpty(t, got[0].ID)

	all, err := s.RecentMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	empty, err := s.RecentMessages(ctx, "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testKV(t *testing.T, s store.Store) {
	ctx := context.Background()
	kv := store.NewSessionKV(s, "sess-1")
	assert.Equal(t, "sess-1", kv.SessionID())

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "count", 3))
	require.NoError(t, kv.Set(ctx, "tags", []string{"a", "b"}))
	require.NoError(t, kv.Set(ctx, "count", 4))

	v, ok, err := kv.Get(ctx, "count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(4), v)

	all, err := kv.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(4), "tags": []any{"a", "b"}}, all)

	err = kv.Set(ctx, "bad", make(chan int))
	assert.ErrorIs(t, err, store.ErrNotSerializable)
	_, ok, err = kv.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx, "count"))
	require.NoError(t, kv.Delete(ctx, "count"))
	_, ok, err = kv.Get(ctx, "count")
	require.NoError(t, err)
	assert.False(t, ok)

	otherAll, err := store.NewSessionKV(s, "sess-2").All(ctx)
	require.NoError(t, err)
	assert.Empty(t, otherAll)
}

func testClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	res, err := s.ClaimInboundEvent(ctx, "wa:msg-1")
	require.NoError(t, err)
	assert.Equal(t, store.Claimed, res)
	res, err = s.ClaimInboundEvent(ctx, "wa:msg-1")
	require.NoError(t, err)
	assert.Equal(t, store.Duplicate, res)

	// Concurrent claims of one key let exactly one through.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.ClaimInboundEvent(ctx, "wa:msg-2")
			if !assert.NoError(t, err) {
				return
			}
			if r == store.Claimed {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)
}
