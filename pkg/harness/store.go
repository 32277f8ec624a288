package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sreops/operator/pkg/storage"
)

// ErrNotFound is returned when a campaign or trial id does not exist.
var ErrNotFound = errors.New("harness: not found")

// Campaign is the persisted record of one eval run.
type Campaign struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	CreatedAt  string `db:"created_at" json:"created_at"`
	ConfigJSON string `db:"config_json" json:"config_json"`
}

// Store persists Campaigns and Trials in the shared embedded database,
// following the same WriteTx-serialized-write pattern as pkg/ticket.Store.
type Store struct {
	db *storage.DB
}

// NewStore wraps an already-opened storage.DB.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// CreateCampaign inserts a new campaign row.
func (s *Store) CreateCampaign(ctx context.Context, id, name, configJSON string) (*Campaign, error) {
	c := &Campaign{ID: id, Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano), ConfigJSON: configJSON}
	err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO campaigns (id, name, created_at, config_json) VALUES (?, ?, ?, ?)`,
			c.ID, c.Name, c.CreatedAt, c.ConfigJSON)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert campaign %s: %w", id, err)
	}
	return c, nil
}

// GetCampaign fetches a campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var c Campaign
	err := s.db.GetContext(ctx, &c, `SELECT * FROM campaigns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return &c, nil
}

// Insert writes a new trial row (status expected to be StatusRunning or
// StatusPending at insert time; Start inserts every trial as pending up
// front so a crash mid-campaign still leaves a record behind for
// resumption, and Executor.Run only updates rows).
func (s *Store) Insert(ctx context.Context, t Trial) error {
	return s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trials (
				id, campaign_id, subject, chaos_type, chaos_params_json, status,
				started_at, chaos_injected_at, ended_at, chaos_metadata_json,
				final_state_json, agent_session_id, ticket_ids_json, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.CampaignID, t.Subject, t.ChaosType, nonEmptyJSON(t.ChaosParams), t.Status,
			nullableTime(t.StartedAt), nullableTime(t.ChaosInjectedAt), nullableTime(t.EndedAt),
			nonEmptyJSONDefault(t.ChaosMetadata, "{}"), nonEmptyJSONDefault(t.FinalState, "{}"),
			t.AgentSessionID, nonEmptyJSONDefault(t.TicketIDs, "[]"), t.Error)
		return err
	})
}

// Update overwrites an existing trial row with t's current field values.
func (s *Store) Update(ctx context.Context, t Trial) error {
	return s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE trials SET
				status = ?, started_at = ?, chaos_injected_at = ?, ended_at = ?,
				chaos_metadata_json = ?, final_state_json = ?, agent_session_id = ?,
				ticket_ids_json = ?, error = ?
			WHERE id = ?`,
			t.Status, nullableTime(t.StartedAt), nullableTime(t.ChaosInjectedAt), nullableTime(t.EndedAt),
			nonEmptyJSONDefault(t.ChaosMetadata, "{}"), nonEmptyJSONDefault(t.FinalState, "{}"),
			t.AgentSessionID, nonEmptyJSONDefault(t.TicketIDs, "[]"), t.Error, t.ID)
		if err != nil {
			return fmt.Errorf("update trial %s: %w", t.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Row never made it in (Insert failed earlier); fall back to a
			// fresh insert so the campaign result is never silently lost.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trials (
					id, campaign_id, subject, chaos_type, chaos_params_json, status,
					started_at, chaos_injected_at, ended_at, chaos_metadata_json,
					final_state_json, agent_session_id, ticket_ids_json, error
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.CampaignID, t.Subject, t.ChaosType, nonEmptyJSON(t.ChaosParams), t.Status,
				nullableTime(t.StartedAt), nullableTime(t.ChaosInjectedAt), nullableTime(t.EndedAt),
				nonEmptyJSONDefault(t.ChaosMetadata, "{}"), nonEmptyJSONDefault(t.FinalState, "{}"),
				t.AgentSessionID, nonEmptyJSONDefault(t.TicketIDs, "[]"), t.Error)
			return err
		}
		return nil
	})
}

// Get fetches a trial by id.
func (s *Store) Get(ctx context.Context, id string) (*Trial, error) {
	var t Trial
	err := s.db.GetContext(ctx, &t, `SELECT * FROM trials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trial %s: %w", id, err)
	}
	return &t, nil
}

// ListByCampaign returns every trial recorded for a campaign, in insertion
// order (rowid order, since trials has no auto-increment column of its own).
func (s *Store) ListByCampaign(ctx context.Context, campaignID string) ([]Trial, error) {
	var trials []Trial
	err := s.db.SelectContext(ctx, &trials, `SELECT * FROM trials WHERE campaign_id = ? ORDER BY rowid`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list trials for campaign %s: %w", campaignID, err)
	}
	return trials, nil
}

// Incomplete returns trials for campaignID still in pending or running
// status: the set a restarted campaign run must re-enumerate and retry
// (spec.md §4.7's resumability requirement — "running" is treated as
// interrupted, not as still in flight, since no process survives a
// restart to finish it).
func (s *Store) Incomplete(ctx context.Context, campaignID string) ([]Trial, error) {
	var trials []Trial
	err := s.db.SelectContext(ctx, &trials, `
		SELECT * FROM trials WHERE campaign_id = ? AND status IN ('pending', 'running')
		ORDER BY rowid`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list incomplete trials for campaign %s: %w", campaignID, err)
	}
	return trials, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nonEmptyJSON(s string) string {
	return nonEmptyJSONDefault(s, "{}")
}

func nonEmptyJSONDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
