package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sreops/operator/pkg/storage"
)

// ErrNotFound is returned when a ticket id does not exist.
var ErrNotFound = errors.New("ticket: not found")

// FlapWindow and FlapThreshold configure the informational flap-detection
// check. They are package vars rather than constants; the config loader
// does not set them, so operator.yaml cannot change them.
var (
	FlapWindow    = 5 * time.Minute
	FlapThreshold = 3
)

// Store persists Tickets in the shared embedded database. All mutations run
// inside a transaction acquired through storage.DB.WriteTx, which also
// serializes writes across goroutines (spec.md §5's single-writer DB
// resource).
type Store struct {
	db *storage.DB
}

// NewStore wraps an already-opened storage.DB.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// OpenOrUpdate is the atomic upsert described in spec.md §4.3: find the
// single open ticket for v.Key(); if present, increment occurrence and
// refresh last_seen/message, otherwise insert a new row. It retries once on
// a unique-index collision (the "ticket race" error kind in spec.md §7),
// re-reading and falling through to the update branch.
func (s *Store) OpenOrUpdate(ctx context.Context, v Violation, batchKey string, snapshot any) (*Ticket, error) {
	snapshotJSON, err := marshalSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal metric snapshot: %w", err)
	}

	var result *Ticket
	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
			t, txErr := s.openOrUpdateTx(ctx, tx, v, batchKey, snapshotJSON)
			if txErr != nil {
				return txErr
			}
			result = t
			return nil
		})
		if err == nil {
			return result, nil
		}
		if isUniqueConstraintErr(err) && attempt == 0 {
			slog.Warn("ticket race on open_or_update, retrying", "violation_key", v.Key())
			continue
		}
		return nil, err
	}
	return result, nil
}

func (s *Store) openOrUpdateTx(ctx context.Context, tx *sqlx.Tx, v Violation, batchKey, snapshotJSON string) (*Ticket, error) {
	key := v.Key()
	now := v.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	existing, err := s.getOpenByKeyTx(ctx, tx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query open ticket for %q: %w", key, err)
	}

	if existing != nil {
		existing.OccurrenceCount++
		existing.LastSeen = now
		existing.Message = s.annotateFlap(ctx, tx, key, v.Message)
		existing.BatchKey = batchKey
		existing.MetricSnapshot = snapshotJSON
		existing.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			UPDATE tickets SET occurrence_count = ?, last_seen = ?, message = ?,
				batch_key = ?, metric_snapshot = ?, updated_at = ?
			WHERE id = ?`,
			existing.OccurrenceCount, existing.LastSeen.Format(time.RFC3339Nano), existing.Message,
			existing.BatchKey, existing.MetricSnapshot, existing.UpdatedAt.Format(time.RFC3339Nano), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("update ticket %d: %w", existing.ID, err)
		}
		return existing, nil
	}

	t := &Ticket{
		ViolationKey:    key,
		InvariantName:   v.InvariantName,
		EntityID:        v.EntityID,
		Status:          StatusOpen,
		Held:            false,
		BatchKey:        batchKey,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		Severity:        v.Severity,
		Message:         s.annotateFlap(ctx, tx, key, v.Message),
		MetricSnapshot:  snapshotJSON,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (
			violation_key, invariant_name, entity_id, status, held, batch_key,
			occurrence_count, first_seen, last_seen, severity, message,
			metric_snapshot, diagnosis, created_at, updated_at
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		t.ViolationKey, t.InvariantName, t.EntityID, t.Status, t.BatchKey,
		t.OccurrenceCount, t.FirstSeen.Format(time.RFC3339Nano), t.LastSeen.Format(time.RFC3339Nano),
		t.Severity, t.Message, t.MetricSnapshot,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert ticket for %q: %w", key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted ticket id: %w", err)
	}
	t.ID = id
	return t, nil
}

// annotateFlap checks how many resolutions of key occurred within
// FlapWindow; if at or above FlapThreshold, the message is annotated. This
// implements the informational flap-detection note in spec.md §4.3.
func (s *Store) annotateFlap(ctx context.Context, tx *sqlx.Tx, key, message string) string {
	since := time.Now().UTC().Add(-FlapWindow).Format(time.RFC3339Nano)
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM tickets
		WHERE violation_key = ? AND status = 'resolved' AND resolved_at >= ?`,
		key, since)
	if err != nil {
		slog.Warn("flap detection query failed, skipping annotation", "violation_key", key, "error", err)
		return message
	}
	if count >= FlapThreshold {
		return fmt.Sprintf("%s [flapping: %d resolutions in last %s]", message, count, FlapWindow)
	}
	return message
}

// AutoResolve transitions every currently-open ticket whose violation key is
// absent from the latest tick's open key set to resolved, unless held.
// Each key resolves independently; spec.md §9 notes there is no ordering
// guarantee between keys when several disappear in the same tick.
func (s *Store) AutoResolve(ctx context.Context, presentKeys []string) error {
	present := make(map[string]bool, len(presentKeys))
	for _, k := range presentKeys {
		present[k] = true
	}

	return s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		var open []Ticket
		if err := tx.SelectContext(ctx, &open, `SELECT * FROM tickets WHERE status != 'resolved'`); err != nil {
			return fmt.Errorf("query open tickets: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, t := range open {
			if present[t.ViolationKey] || t.Held {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE tickets SET status = 'resolved', resolved_at = ?, updated_at = ?
				WHERE id = ?`, now, now, t.ID)
			if err != nil {
				return fmt.Errorf("auto-resolve ticket %d: %w", t.ID, err)
			}
		}
		return nil
	})
}

// Get fetches a ticket by id.
func (s *Store) Get(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tickets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return &t, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status   Status
	Severity Severity
}

// List returns tickets matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Ticket, error) {
	query := `SELECT * FROM tickets WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	query += ` ORDER BY updated_at DESC`

	tickets := []Ticket{}
	if err := s.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// Resolve explicitly resolves a ticket regardless of held state, clearing
// the hold ("resolve ... may terminate the ticket").
func (s *Store) Resolve(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.updateOne(ctx, id, `
		UPDATE tickets SET status = 'resolved', held = 0, resolved_at = ?, updated_at = ?
		WHERE id = ?`, now, now, id)
}

// Hold sets the held flag, suppressing auto-resolution.
func (s *Store) Hold(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.updateOne(ctx, id, `UPDATE tickets SET held = 1, updated_at = ? WHERE id = ?`, now, id)
}

// Unhold clears the held flag without changing status.
func (s *Store) Unhold(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.updateOne(ctx, id, `UPDATE tickets SET held = 0, updated_at = ? WHERE id = ?`, now, id)
}

// Acknowledge and Diagnose advance status monotonically (open -> acknowledged -> diagnosed).
func (s *Store) Acknowledge(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.updateOne(ctx, id, `
		UPDATE tickets SET status = 'acknowledged', updated_at = ?
		WHERE id = ? AND status = 'open'`, now, id)
}

// AttachDiagnosis writes the opaque diagnosis field produced by the agent
// runtime and advances status to diagnosed.
func (s *Store) AttachDiagnosis(ctx context.Context, id int64, text string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.updateOne(ctx, id, `
		UPDATE tickets SET diagnosis = ?, status = CASE WHEN status = 'resolved' THEN status ELSE 'diagnosed' END,
			updated_at = ?
		WHERE id = ?`, text, now, id)
}

func (s *Store) updateOne(ctx context.Context, id int64, query string, args ...any) error {
	return s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update ticket %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for ticket %d: %w", id, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) getOpenByKeyTx(ctx context.Context, tx *sqlx.Tx, key string) (*Ticket, error) {
	var t Ticket
	err := tx.GetContext(ctx, &t, `SELECT * FROM tickets WHERE violation_key = ? AND status != 'resolved'`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalSnapshot(snapshot any) (string, error) {
	if snapshot == nil {
		return "{}", nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isUniqueConstraintErr detects SQLite's unique-index violation message,
// the storage-level enforcement of "one open ticket per key".
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
