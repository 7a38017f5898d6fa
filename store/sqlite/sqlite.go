//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/jovemexausto/zupa/store"
)

var schemaStatements = []string{
	"CREATE TABLE IF NOT EXISTS users (" +
		"id TEXT PRIMARY KEY, " +
		"external_user_id TEXT NOT NULL UNIQUE, " +
		"display_name TEXT NOT NULL DEFAULT '', " +
		"preferences TEXT, " +
		"created_at INTEGER NOT NULL, " +
		"last_active_at INTEGER NOT NULL" +
		")",
	"CREATE TABLE IF NOT EXISTS sessions (" +
		"id TEXT PRIMARY KEY, " +
		"user_id TEXT NOT NULL, " +
		"started_at INTEGER NOT NULL, " +
		"ended_at INTEGER, " +
		"summary TEXT NOT NULL DEFAULT '', " +
		"message_count INTEGER NOT NULL DEFAULT 0, " +
		"metadata TEXT, " +
		"last_active_at INTEGER NOT NULL" +
		")",
	// At most one active session per user.
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active ON sessions (user_id) WHERE ended_at IS NULL",
	"CREATE TABLE IF NOT EXISTS messages (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"id TEXT NOT NULL UNIQUE, " +
		"session_id TEXT NOT NULL, " +
		"user_id TEXT NOT NULL, " +
		"role TEXT NOT NULL, " +
		"content_text TEXT NOT NULL, " +
		"input_modality TEXT NOT NULL DEFAULT '', " +
		"output_modality TEXT NOT NULL DEFAULT '', " +
		"tokens_used INTEGER NOT NULL DEFAULT 0, " +
		"latency_ms INTEGER NOT NULL DEFAULT 0, " +
		"metadata TEXT, " +
		"created_at INTEGER NOT NULL" +
		")",
	"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq)",
	"CREATE TABLE IF NOT EXISTS session_kv (" +
		"session_id TEXT NOT NULL, " +
		"kv_key TEXT NOT NULL, " +
		"kv_value TEXT NOT NULL, " +
		"PRIMARY KEY (session_id, kv_key)" +
		")",
	"CREATE TABLE IF NOT EXISTS inbound_events (" +
		"event_key TEXT PRIMARY KEY, " +
		"claimed_at INTEGER NOT NULL" +
		")",
}

const (
	userColumns    = "id, external_user_id, display_name, preferences, created_at, last_active_at"
	sessionColumns = "id, user_id, started_at, ended_at, summary, message_count, metadata, last_active_at"
	messageColumns = "id, session_id, user_id, role, content_text, input_modality, output_modality, " +
		"tokens_used, latency_ms, metadata, created_at"
)

// Store is a store.Store over a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates the schema if needed and returns a Store. The DB must use a
// SQLite driver; the caller keeps ownership unless Close is called.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create store schema: %w", err)
		}
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Open opens dsn with the sqlite3 driver and creates the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func encodeMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotSerializable, err)
	}
	return string(b), nil
}

func decodeMap(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

func scanUser(row scanner) (*store.User, error) {
	var (
		u                 store.User
		prefs             sql.NullString
		created, lastSeen int64
	)
	if err := row.Scan(&u.ID, &u.ExternalUserID, &u.DisplayName, &prefs, &created, &lastSeen); err != nil {
		return nil, err
	}
	var err error
	if u.Preferences, err = decodeMap(prefs); err != nil {
		return nil, err
	}
	u.CreatedAt, u.LastActiveAt = fromNanos(created), fromNanos(lastSeen)
	return &u, nil
}

func scanSession(row scanner) (*store.Session, error) {
	var (
		sess           store.Session
		started, last  int64
		ended          sql.NullInt64
		meta           sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &started, &ended, &sess.Summary,
		&sess.MessageCount, &meta, &last); err != nil {
		return nil, err
	}
	var err error
	if sess.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	sess.StartedAt, sess.LastActiveAt = fromNanos(started), fromNanos(last)
	if ended.Valid {
		at := fromNanos(ended.Int64)
		sess.EndedAt = &at
	}
	return &sess, nil
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		m       store.Message
		meta    sql.NullString
		created int64
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.ContentText,
		&m.InputModality, &m.OutputModality, &m.TokensUsed, &m.LatencyMs, &meta, &created); err != nil {
		return nil, err
	}
	var err error
	if m.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	m.CreatedAt = fromNanos(created)
	return &m, nil
}

// FindUserByExternalID implements store.UserRepository.
func (s *Store) FindUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE external_user_id = ?", externalUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// GetUser implements store.UserRepository.
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser implements store.UserRepository.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if u.LastActiveAt.IsZero() {
		u.LastActiveAt = u.CreatedAt
	}
	prefs, err := encodeMap(u.Preferences)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		u.ID, u.ExternalUserID, u.DisplayName, prefs, nanos(u.CreatedAt), nanos(u.LastActiveAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user with external id %s already exists: %w", u.ExternalUserID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateUserPreferences implements store.UserRepository.
func (s *Store) UpdateUserPreferences(ctx context.Context, userID string, prefs map[string]any) (*store.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.Preferences == nil {
		u.Preferences = make(map[string]any, len(prefs))
	}
	for k, v := range prefs {
		u.Preferences[k] = v
	}
	encoded, err := encodeMap(u.Preferences)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE users SET preferences = ? WHERE id = ?", encoded, userID); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// TouchUserLastActive implements store.UserRepository.
func (s *Store) TouchUserLastActive(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, "user", userID, "UPDATE users SET last_active_at = ? WHERE id = ?", nanos(at), userID)
}

// ActiveSession implements store.SessionRepository.
func (s *Store) ActiveSession(ctx context.Context, userID string) (*store.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? AND ended_at IS NULL", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return sess, nil
}

// GetSession implements store.SessionRepository.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// CreateSession implements store.SessionRepository.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = sess.StartedAt
	}
	meta, err := encodeMap(sess.Metadata)
	if err != nil {
		return err
	}
	var ended any
	if sess.EndedAt != nil {
		ended = nanos(*sess.EndedAt)
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, nanos(sess.StartedAt), ended, sess.Summary, sess.MessageCount, meta,
		nanos(sess.LastActiveAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s already has an active session: %w", sess.UserID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession implements store.SessionRepository.
func (s *Store) EndSession(ctx context.Context, sessionID, summary string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ? AND ended_at IS NULL",
		nanos(at), summary, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", sessionID, store.ErrSessionEnded)
}

// TouchSession implements store.SessionRepository.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.execOne(ctx, "session", sessionID, "UPDATE sessions SET last_active_at = ? WHERE id = ?", nanos(at), sessionID)
}

// IncrementMessageCount implements store.SessionRepository.
func (s *Store) IncrementMessageCount(ctx context.Context, sessionID string, delta int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"UPDATE sessions SET message_count = message_count + ? WHERE id = ? RETURNING message_count",
		delta, sessionID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	return count, nil
}

// RecentSummaries implements store.SessionRepository.
func (s *Store) RecentSummaries(ctx context.Context, userID string, limit int) ([]*store.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions "+
			"WHERE user_id = ? AND ended_at IS NOT NULL AND summary != '' "+
			"ORDER BY ended_at DESC LIMIT ?", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()
	var out []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage implements store.MessageRepository.
func (s *Store) AppendMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	meta, err := encodeMap(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.SessionID, m.UserID, string(m.Role), m.ContentText, string(m.InputModality),
		string(m.OutputModality), m.TokensUsed, m.LatencyMs, meta, nanos(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages implements store.MessageRepository.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM ("+
			"SELECT seq, "+messageColumns+" FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?"+
			") ORDER BY seq ASC", sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	var out []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// KVGet implements store.KVRepository.
func (s *Store) KVGet(ctx context.Context, sessionID, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT kv_value FROM session_kv WHERE session_id = ? AND kv_key = ?", sessionID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	v, err := store.DecodeValue([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// KVSet implements store.KVRepository.
func (s *Store) KVSet(ctx context.Context, sessionID, key string, value any) error {
	raw, err := store.EncodeValue(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO session_kv (session_id, kv_key, kv_value) VALUES (?, ?, ?) "+
			"ON CONFLICT (session_id, kv_key) DO UPDATE SET kv_value = excluded.kv_value",
		sessionID, key, string(raw))
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// KVDelete implements store.KVRepository.
func (s *Store) KVDelete(ctx context.Context, sessionID, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM session_kv WHERE session_id = ? AND kv_key = ?", sessionID, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// KVAll implements store.KVRepository.
func (s *Store) KVAll(ctx context.Context, sessionID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kv_key, kv_value FROM session_kv WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("kv all: %w", err)
	}
	defer rows.Close()
	out := map[string]any{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		v, err := store.DecodeValue([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, rows.Err()
}

// ClaimInboundEvent implements store.EventClaimer.
func (s *Store) ClaimInboundEvent(ctx context.Context, key string) (store.ClaimResult, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO inbound_events (event_key, claimed_at) VALUES (?, ?)", key, nanos(s.now()))
	if err != nil {
		return "", fmt.Errorf("claim inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("claim inbound event: %w", err)
	}
	if n == 0 {
		return store.Duplicate, nil
	}
	return store.Claimed, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) execOne(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}
