//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local store.Store.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jovemexausto/zupa/store"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*store.User
	byExt    map[string]string // externalUserID -> userID
	sessions map[string]*store.Session
	order    []string // session ids in creation order
	messages map[string][]*store.Message
	kv       map[string]map[string][]byte
	claimed  map[string]struct{}
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:    make(map[string]*store.User),
		byExt:    make(map[string]string),
		sessions: make(map[string]*store.Session),
		messages: make(map[string][]*store.Message),
		kv:       make(map[string]map[string][]byte),
		claimed:  make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindUserByExternalID implements store.UserRepository.
func (s *Store) FindUserByExternalID(_ context.Context, externalUserID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExt[externalUserID]
	if !ok {
		return nil, nil
	}
	return copyUser(s.users[id]), nil
}

// GetUser implements store.UserRepository.
func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return copyUser(u), nil
}

// CreateUser implements store.UserRepository.
func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExt[u.ExternalUserID]; ok {
		return fmt.Errorf("user with external id %s already exists: %w", u.ExternalUserID, store.ErrConflict)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if u.LastActiveAt.IsZero() {
		u.LastActiveAt = u.CreatedAt
	}
	s.users[u.ID] = copyUser(u)
	s.byExt[u.ExternalUserID] = u.ID
	return nil
}

// UpdateUserPreferences implements store.UserRepository.
func (s *Store) UpdateUserPreferences(_ context.Context, userID string, prefs map[string]any) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if u.Preferences == nil {
		u.Preferences = make(map[string]any, len(prefs))
	}
	for k, v := range prefs {
		u.Preferences[k] = v
	}
	return copyUser(u), nil
}

// TouchUserLastActive implements store.UserRepository.
func (s *Store) TouchUserLastActive(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	u.LastActiveAt = at
	return nil
}

// ActiveSession implements store.SessionRepository.
func (s *Store) ActiveSession(_ context.Context, userID string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		sess := s.sessions[s.order[i]]
		if sess.UserID == userID && sess.Active() {
			return copySession(sess), nil
		}
	}
	return nil, nil
}

// GetSession implements store.SessionRepository.
func (s *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return copySession(sess), nil
}

// CreateSession implements store.SessionRepository. It refuses to create a
// second active session for the same user.
func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID == sess.UserID && existing.Active() {
			return fmt.Errorf("user %s already has active session %s: %w", sess.UserID, existing.ID, store.ErrConflict)
		}
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = sess.StartedAt
	}
	s.sessions[sess.ID] = copySession(sess)
	s.order = append(s.order, sess.ID)
	return nil
}

// EndSession implements store.SessionRepository.
func (s *Store) EndSession(_ context.Context, sessionID, summary string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if !sess.Active() {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrSessionEnded)
	}
	ended := at
	sess.EndedAt = &ended
	sess.Summary = summary
	return nil
}

// TouchSession implements store.SessionRepository.
func (s *Store) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	sess.LastActiveAt = at
	return nil
}

// IncrementMessageCount implements store.SessionRepository.
func (s *Store) IncrementMessageCount(_ context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	sess.MessageCount += delta
	return sess.MessageCount, nil
}

// RecentSummaries implements store.SessionRepository.
func (s *Store) RecentSummaries(_ context.Context, userID string, limit int) ([]*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Active() && sess.Summary != "" {
			out = append(out, copySession(sess))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(*out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMessage implements store.MessageRepository.
func (s *Store) AppendMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	cp := *m
	cp.Metadata = copyMap(m.Metadata)
	s.messages[m.SessionID] = append(s.messages[m.SessionID], &cp)
	return nil
}

// RecentMessages implements store.MessageRepository.
func (s *Store) RecentMessages(_ context.Context, sessionID string, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*store.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		cp.Metadata = copyMap(m.Metadata)
		out[i] = &cp
	}
	return out, nil
}

// KVGet implements store.KVRepository.
func (s *Store) KVGet(_ context.Context, sessionID, key string) (any, bool, error) {
	s.mu.RLock()
	raw, ok := s.kv[sessionID][key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err := store.DecodeValue(raw)
	return v, err == nil, err
}

// KVSet implements store.KVRepository.
func (s *Store) KVSet(_ context.Context, sessionID, key string, value any) error {
	raw, err := store.EncodeValue(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv[sessionID] == nil {
		s.kv[sessionID] = make(map[string][]byte)
	}
	s.kv[sessionID][key] = raw
	return nil
}

// KVDelete implements store.KVRepository.
func (s *Store) KVDelete(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv[sessionID], key)
	return nil
}

// KVAll implements store.KVRepository.
func (s *Store) KVAll(_ context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.kv[sessionID]))
	for k, raw := range s.kv[sessionID] {
		v, err := store.DecodeValue(raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ClaimInboundEvent implements store.EventClaimer.
func (s *Store) ClaimInboundEvent(_ context.Context, key string) (store.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[key]; ok {
		return store.Duplicate, nil
	}
	s.claimed[key] = struct{}{}
	return store.Claimed, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func copyUser(u *store.User) *store.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Preferences = copyMap(u.Preferences)
	return &cp
}

func copySession(sess *store.Session) *store.Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	cp.Metadata = copyMap(sess.Metadata)
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
