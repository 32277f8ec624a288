package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sreops/operator/pkg/storage"
)

// Store persists sessions and their ordered entries. Writes go through the
// shared storage.DB write-serialization gate; reads use the pool directly.
type Store struct {
	db *storage.DB
}

// NewStore constructs a Store over an already-open database handle.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// NewSessionID mints a session id as a UTC timestamp plus 8 hex random
// characters.
func NewSessionID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("audit: generate session id: %w", err)
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(buf)), nil
}

// StartSession inserts a new session row and returns it.
func (s *Store) StartSession(ctx context.Context, id string, startedAt time.Time) (*Session, error) {
	sess := &Session{ID: id, StartedAt: startedAt.UTC()}
	err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at, outcome) VALUES (?, ?, '')`,
			sess.ID, sess.StartedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit: start session: %w", err)
	}
	return sess, nil
}

// EndSession sets ended_at and the outcome label. Once called, the session
// is considered closed; nothing should append further entries to it.
func (s *Store) EndSession(ctx context.Context, sessionID, outcome string, endedAt time.Time) error {
	err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ?`,
			endedAt.UTC().Format(time.RFC3339Nano), outcome, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("audit: end session %s: %w", sessionID, err)
	}
	return nil
}

// Append redacts the entry's JSON payload fields and writes it under the
// next sequence number for its session, inside one write-serialized
// transaction so seq assignment can never race (spec.md §8 property 5:
// "every audit entry appears in strictly increasing seq order ... no
// gaps").
func (s *Store) Append(ctx context.Context, sessionID string, role Role, kind Kind, payload []byte, toolName string, toolParams, toolResult []byte) (*Entry, error) {
	entry := &Entry{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Role:      role,
		Kind:      kind,
		Payload:   string(RedactJSON(payload)),
	}
	if toolName != "" {
		entry.ToolName = &toolName
	}
	if toolParams != nil {
		redacted := string(RedactJSON(toolParams))
		entry.ToolParams = &redacted
	}
	if toolResult != nil {
		redacted := string(RedactJSON(toolResult))
		entry.ToolResult = &redacted
	}

	err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		var maxSeq int64
		if err := tx.GetContext(ctx, &maxSeq, `SELECT COALESCE(MAX(seq), 0) FROM audit_entries WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("read max seq: %w", err)
		}
		entry.Seq = maxSeq + 1

		_, err := tx.ExecContext(ctx,
			`INSERT INTO audit_entries (session_id, seq, ts, role, kind, payload_json, tool_name, tool_params_json, tool_result_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.SessionID, entry.Seq, entry.Timestamp.Format(time.RFC3339Nano), entry.Role, entry.Kind,
			entry.Payload, entry.ToolName, entry.ToolParams, entry.ToolResult)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit: append entry: %w", err)
	}
	return entry, nil
}

// ListSessions returns all sessions, most recently started first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.db.SelectContext(ctx, &sessions, `SELECT * FROM sessions ORDER BY started_at DESC`); err != nil {
		return nil, fmt.Errorf("audit: list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns a session and its full ordered entry log.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Entry, error) {
	var sess Session
	if err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		return nil, nil, fmt.Errorf("audit: get session %s: %w", id, err)
	}
	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, `SELECT * FROM audit_entries WHERE session_id = ? ORDER BY seq ASC`, id); err != nil {
		return nil, nil, fmt.Errorf("audit: list entries for session %s: %w", id, err)
	}
	return &sess, entries, nil
}

// Tail returns the last n entries of a session, for live display.
func (s *Store) Tail(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM (SELECT * FROM audit_entries WHERE session_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`,
		sessionID, n); err != nil {
		return nil, fmt.Errorf("audit: tail session %s: %w", sessionID, err)
	}
	return entries, nil
}
