// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage implements session persistence on pure-Go SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/morganforge/promptdeck/internal/export"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/session"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	last_modified_at TEXT NOT NULL,
	is_archived      INTEGER NOT NULL DEFAULT 0,
	provider_id      TEXT NOT NULL,
	model_id         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	usage_json    TEXT,
	context_json  TEXT,
	metadata_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_sessions_modified ON sessions(last_modified_at);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore implements session.Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the database at path. The parent directory is
// created if needed.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to create database directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to open database", err)
	}

	// SQLite allows one writer at a time; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, session.NewError(session.KindStorageError, "failed to set pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, session.NewError(session.KindStorageError, "failed to initialize schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession persists a new session shell. Messages already attached to
// the value are persisted as well.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, last_modified_at, is_archived, provider_id, model_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, formatTime(sess.CreatedAt), formatTime(sess.LastModifiedAt),
		boolToInt(sess.IsArchived), sess.ProviderID, sess.ModelID)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to insert session", err)
	}

	for i, msg := range sess.Messages {
		if err := insertMessage(ctx, tx, sess.ID, i, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return session.NewError(session.KindStorageError, "failed to commit", err)
	}
	return nil
}

// GetSession loads a session with all its messages in order.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, last_modified_at, is_archived, provider_id, model_id
		 FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, session.NewError(session.KindSessionNotFound, fmt.Sprintf("session %q", id), nil)
	}
	if err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to load session", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, usage_json, context_json, metadata_json
		 FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to load messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, session.NewError(session.KindStorageError, "failed to decode message", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to iterate messages", err)
	}
	return sess, nil
}

// SaveMessage appends a message to an existing session and bumps the
// session's last-modified time.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to count messages", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_modified_at = ? WHERE id = ?`,
		formatTime(time.Now()), sessionID)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to touch session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.NewError(session.KindSessionNotFound, fmt.Sprintf("session %q", sessionID), nil)
	}

	if err := insertMessage(ctx, tx, sessionID, seq, msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return session.NewError(session.KindStorageError, "failed to commit", err)
	}
	return nil
}

// ArchiveSession marks a session archived.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, true)
}

// UnarchiveSession clears the archived flag.
func (s *SQLiteStore) UnarchiveSession(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, false)
}

func (s *SQLiteStore) setArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_archived = ?, last_modified_at = ? WHERE id = ?`,
		boolToInt(archived), formatTime(time.Now()), id)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to update archive flag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.NewError(session.KindSessionNotFound, fmt.Sprintf("session %q", id), nil)
	}
	return nil
}

// DeleteSession removes a session; its messages cascade.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.NewError(session.KindSessionNotFound, fmt.Sprintf("session %q", id), nil)
	}
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchSessions returns summaries matching the query, most recently
// modified first. Matching is a case-insensitive substring over the title
// and message content; an empty query matches everything.
func (s *SQLiteStore) SearchSessions(ctx context.Context, query string, filters session.SearchFilters) ([]model.SessionSummary, error) {
	var (
		clauses []string
		args    []any
	)

	if !filters.IncludeArchived {
		clauses = append(clauses, "s.is_archived = 0")
	}
	if filters.ProviderID != "" {
		clauses = append(clauses, "s.provider_id = ?")
		args = append(args, filters.ProviderID)
	}
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		clauses = append(clauses, `(LOWER(s.title) LIKE ? OR EXISTS (
			SELECT 1 FROM messages m WHERE m.session_id = s.id AND LOWER(m.content) LIKE ?))`)
		args = append(args, pattern, pattern)
	}

	stmt := `SELECT s.id, s.title, s.created_at, s.last_modified_at, s.is_archived,
			s.provider_id, s.model_id,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
			COALESCE((SELECT m.content FROM messages m
				WHERE m.session_id = s.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
		FROM sessions s`
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY s.last_modified_at DESC"
	if filters.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, session.NewError(session.KindStorageError, "search failed", err)
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var (
			summary           model.SessionSummary
			created, modified string
			archived          int
			preview           string
		)
		if err := rows.Scan(&summary.ID, &summary.Title, &created, &modified, &archived,
			&summary.ProviderID, &summary.ModelID, &summary.MessageCount, &preview); err != nil {
			return nil, session.NewError(session.KindStorageError, "failed to scan summary", err)
		}
		summary.CreatedAt = parseTime(created)
		summary.LastModifiedAt = parseTime(modified)
		summary.IsArchived = archived != 0
		summary.Preview = truncatePreview(preview, 80)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, session.NewError(session.KindStorageError, "failed to iterate summaries", err)
	}
	return out, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportSession renders a session in the given format.
func (s *SQLiteStore) ExportSession(ctx context.Context, id string, format export.Format) ([]byte, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := export.Render(sess, format)
	if err != nil {
		return nil, session.NewError(session.KindInvalidFormat, string(format), err)
	}
	return data, nil
}

// =============================================================================
// ROW HELPERS
// =============================================================================

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, seq int, msg *model.Message) error {
	usageJSON, err := marshalNullable(msg.Usage)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to encode usage", err)
	}
	contextJSON, err := marshalNullable(msg.ContextItems)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to encode context items", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to encode metadata", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, seq, role, content, timestamp, usage_json, context_json, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, seq, string(msg.Role), msg.Content, formatTime(msg.Timestamp),
		usageJSON, contextJSON, string(metadataJSON))
	if err != nil {
		return session.NewError(session.KindStorageError, "failed to insert message", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess              model.Session
		created, modified string
		archived          int
	)
	err := row.Scan(&sess.ID, &sess.Title, &created, &modified, &archived,
		&sess.ProviderID, &sess.ModelID)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(created)
	sess.LastModifiedAt = parseTime(modified)
	sess.IsArchived = archived != 0
	return &sess, nil
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		msg                                  model.Message
		role, timestamp                      string
		usageJSON, contextJSON, metadataJSON sql.NullString
	)
	err := row.Scan(&msg.ID, &role, &msg.Content, &timestamp, &usageJSON, &contextJSON, &metadataJSON)
	if err != nil {
		return nil, err
	}
	msg.Role = model.Role(role)
	msg.Timestamp = parseTime(timestamp)

	if usageJSON.Valid && usageJSON.String != "" {
		var usage model.TokenUsage
		if err := json.Unmarshal([]byte(usageJSON.String), &usage); err != nil {
			return nil, err
		}
		msg.Usage = &usage
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &msg.ContextItems); err != nil {
			return nil, err
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// marshalNullable encodes v to JSON, returning NULL for nil values so the
// column stays empty rather than holding the string "null".
func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case *model.TokenUsage:
		if val == nil {
			return sql.NullString{}, nil
		}
	case []model.ContextItem:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// truncatePreview shortens a preview using rune-based truncation for
// Unicode safety.
func truncatePreview(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
