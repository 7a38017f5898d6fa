//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package store defines the repository port the turn pipeline persists
// users, sessions, messages, session key-value data and inbound dedup claims
// through.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record looked up by id does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotSerializable is returned when a session KV value cannot be
	// encoded as JSON.
	ErrNotSerializable = errors.New("store: value is not JSON serializable")
	// ErrSessionEnded is returned when mutating a session that already ended.
	ErrSessionEnded = errors.New("store: session already ended")
	// ErrConflict is returned when a create races another one: a second user
	// with the same external id, or a second active session for a user.
	ErrConflict = errors.New("store: conflict")
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Modality is how a message travels: text or voice.
type Modality string

// Modalities.
const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// User preference keys understood by the runtime.
const (
	PrefReplyFormat = "preferredReplyFormat"
	PrefVerbosity   = "verbosity"

	ReplyFormatText    = "text"
	ReplyFormatVoice   = "voice"
	ReplyFormatDynamic = "dynamic"
)

// User is a person talking to the agent.
type User struct {
	ID             string         `json:"id"`
	ExternalUserID string         `json:"externalUserId"`
	DisplayName    string         `json:"displayName,omitempty"`
	Preferences    map[string]any `json:"preferences,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActiveAt   time.Time      `json:"lastActiveAt"`
}

// Preference returns the string preference under key, or "".
func (u *User) Preference(key string) string {
	if u == nil || u.Preferences == nil {
		return ""
	}
	s, _ := u.Preferences[key].(string)
	return s
}

// Session is one conversation span of a user. At most one session per user
// has a nil EndedAt.
type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      *time.Time     `json:"endedAt,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	MessageCount int            `json:"messageCount"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s != nil && s.EndedAt == nil }

// IdleFor reports whether the session has been inactive for at least d at now.
func (s *Session) IdleFor(d time.Duration, now time.Time) bool {
	if d <= 0 {
		return false
	}
	last := s.LastActiveAt
	if last.IsZero() {
		last = s.StartedAt
	}
	return now.Sub(last) >= d
}

// Message is one side of a turn. Messages are append-only.
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId"`
	Role           Role           `json:"role"`
	ContentText    string         `json:"contentText"`
	InputModality  Modality       `json:"inputModality,omitempty"`
	OutputModality Modality       `json:"outputModality,omitempty"`
	TokensUsed     int            `json:"tokensUsed,omitempty"`
	LatencyMs      int64          `json:"latencyMs,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ClaimResult is the outcome of claiming an inbound event key.
type ClaimResult string

// Claim results.
const (
	Claimed   ClaimResult = "claimed"
	Duplicate ClaimResult = "duplicate"
)

// UserRepository stores users.
type UserRepository interface {
	// FindUserByExternalID returns nil, nil when no user has the id.
	FindUserByExternalID(ctx context.Context, externalUserID string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	// UpdateUserPreferences merges prefs into the stored preferences.
	UpdateUserPreferences(ctx context.Context, userID string, prefs map[string]any) (*User, error)
	TouchUserLastActive(ctx context.Context, userID string, at time.Time) error
}

// SessionRepository stores sessions.
type SessionRepository interface {
	// ActiveSession returns nil, nil when the user has no active session.
	ActiveSession(ctx context.Context, userID string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	EndSession(ctx context.Context, sessionID, summary string, at time.Time) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	IncrementMessageCount(ctx context.Context, sessionID string, delta int) (int, error)
	// RecentSummaries returns ended sessions with a summary, newest first.
	RecentSummaries(ctx context.Context, userID string, limit int) ([]*Session, error)
}

// MessageRepository stores messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, m *Message) error
	// RecentMessages returns the last limit messages of the session, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
}

// KVRepository is the session key-value store. Values must be JSON
// serializable; reads return them in their decoded JSON shape.
type KVRepository interface {
	KVGet(ctx context.Context, sessionID, key string) (any, bool, error)
	KVSet(ctx context.Context, sessionID, key string, value any) error
	KVDelete(ctx context.Context, sessionID, key string) error
	KVAll(ctx context.Context, sessionID string) (map[string]any, error)
}

// EventClaimer dedups inbound events.
type EventClaimer interface {
	// ClaimInboundEvent atomically records key; a second claim is Duplicate.
	ClaimInboundEvent(ctx context.Context, key string) (ClaimResult, error)
}

// Store is the full repository port.
type Store interface {
	UserRepository
	SessionRepository
	MessageRepository
	KVRepository
	EventClaimer
	Close() error
}

// EncodeValue encodes a KV value, wrapping encoding failures in
// ErrNotSerializable.
func EncodeValue(value any) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return b, nil
}

// DecodeValue decodes a value written by EncodeValue.
func DecodeValue(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode kv value: %w", err)
	}
	return v, nil
}

// SessionKV binds the KV operations to one session.
type SessionKV struct {
	repo      KVRepository
	sessionID string
}

// NewSessionKV returns the KV view of sessionID.
func NewSessionKV(repo KVRepository, sessionID string) *SessionKV {
	return &SessionKV{repo: repo, sessionID: sessionID}
}

// SessionID returns the bound session.
func (kv *SessionKV) SessionID() string { return kv.sessionID }

// Get returns the value under key.
func (kv *SessionKV) Get(ctx context.Context, key string) (any, bool, error) {
	return kv.repo.KVGet(ctx, kv.sessionID, key)
}

// Set stores value under key.
func (kv *SessionKV) Set(ctx context.Context, key string, value any) error {
	return kv.repo.KVSet(ctx, kv.sessionID, key, value)
}

// Delete removes key.
func (kv *SessionKV) Delete(ctx context.Context, key string) error {
	return kv.repo.KVDelete(ctx, kv.sessionID, key)
}

// All returns every key of the session.
func (kv *SessionKV) All(ctx context.Context) (map[string]any, error) {
	return kv.repo.KVAll(ctx, kv.sessionID)
}
