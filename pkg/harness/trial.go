// Package harness implements C7: the trial executor (provision→inject→
// run agent→snapshot→cleanup→persist) and the campaign runner (matrix
// expansion, bounded parallelism, resumability).
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/chaos"
	"github.com/sreops/operator/pkg/subject"
)

// Status is a trial's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusComplete Status = "complete"
	StatusFailed  Status = "failed"
)

// Spec is one (subject, chaos, params) combination to execute (spec.md §3
// TrialSpec).
type Spec struct {
	Subject   string
	ChaosType string
	Params    map[string]any
	Index     int
}

// Trial is the persisted record of one executed Spec.
type Trial struct {
	ID              string     `db:"id" json:"id"`
	CampaignID      string     `db:"campaign_id" json:"campaign_id"`
	Subject         string     `db:"subject" json:"subject"`
	ChaosType       string     `db:"chaos_type" json:"chaos_type"`
	ChaosParams     string     `db:"chaos_params_json" json:"chaos_params_json"`
	Status          Status     `db:"status" json:"status"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	ChaosInjectedAt *time.Time `db:"chaos_injected_at" json:"chaos_injected_at,omitempty"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	ChaosMetadata   string     `db:"chaos_metadata_json" json:"chaos_metadata_json"`
	FinalState      string     `db:"final_state_json" json:"final_state_json"`
	AgentSessionID  string     `db:"agent_session_id" json:"agent_session_id"`
	TicketIDs       string     `db:"ticket_ids_json" json:"ticket_ids_json"`
	Error           string     `db:"error" json:"error"`
}

// AgentRunner runs one bounded agent session for a trial and returns the
// session id and whether the session ended via timeout. It is the seam
// between harness and agentrt so this package doesn't depend on the
// concrete provider wiring.
type AgentRunner func(ctx context.Context, sessionID string, sub subject.Subject, trial Trial) (timedOut bool, err error)

// Executor runs one Trial per Spec, implementing the strict
// reset→inject→agent→snapshot→cleanup→persist ordering of spec.md §4.7.
type Executor struct {
	Subjects    *subject.Registry
	Chaos       *chaos.Registry
	Trials      *Store
	Audit       *audit.Store
	RunAgent    AgentRunner
	TrialTimeout time.Duration
	Logger      *slog.Logger
}

// NewPendingTrial builds the Trial row a campaign inserts up front (before
// any worker picks it up), so the full matrix is visible and resumable even
// if the process dies before a single trial runs.
func NewPendingTrial(campaignID string, spec Spec) Trial {
	paramsJSON, _ := json.Marshal(spec.Params)
	return Trial{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		Subject:     spec.Subject,
		ChaosType:   spec.ChaosType,
		ChaosParams: string(paramsJSON),
		Status:      StatusPending,
	}
}

// Run executes trial end to end, starting from an already-persisted row
// (StatusPending or StatusRunning — the latter means a prior process died
// mid-trial and this is a resume, per the campaign runner's resumability
// requirement). Errors from steps after chaos injection still result in a
// persisted, best-effort-cleaned-up Trial row rather than a propagated
// error: the campaign must continue past per-trial failures (spec.md §4.7
// step 3).
func (e *Executor) Run(ctx context.Context, trial Trial) Trial {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("trial_id", trial.ID, "subject", trial.Subject, "chaos_type", trial.ChaosType)

	var params map[string]any
	if trial.ChaosParams != "" {
		_ = json.Unmarshal([]byte(trial.ChaosParams), &params)
	}
	spec := Spec{Subject: trial.Subject, ChaosType: trial.ChaosType, Params: params}

	trial.Status = StatusRunning
	if err := e.Trials.Update(ctx, trial); err != nil {
		logger.Error("failed to mark trial running", "error", err)
	}

	now := time.Now().UTC()
	trial.StartedAt = &now

	trialCtx := ctx
	var cancel context.CancelFunc
	if e.TrialTimeout > 0 {
		trialCtx, cancel = context.WithTimeout(ctx, e.TrialTimeout)
		defer cancel()
	}

	sub, _, err := e.Subjects.Get(spec.Subject)
	if err != nil {
		return e.fail(ctx, trial, fmt.Sprintf("resolve subject: %v", err))
	}

	if err := sub.Reset(trialCtx); err != nil {
		return e.fail(ctx, trial, fmt.Sprintf("reset subject: %v", err))
	}

	var chaosMetadata map[string]any
	var injector chaos.Injector
	if spec.ChaosType != "none" && spec.ChaosType != "" {
		injector, err = e.Chaos.Get(spec.ChaosType)
		if err != nil {
			return e.fail(ctx, trial, fmt.Sprintf("resolve chaos injector: %v", err))
		}
		chaosMetadata, err = injector.Inject(trialCtx, spec.Params)
		if err != nil {
			// Chaos inject failure: mark failed, do not proceed to the agent
			// step, still run cleanup with whatever metadata we have.
			trial.Status = StatusFailed
			trial.Error = fmt.Sprintf("chaos inject failed: %v", err)
			e.cleanup(ctx, injector, chaosMetadata, logger)
			return e.persist(ctx, trial, logger)
		}
		injectedAt := time.Now().UTC()
		trial.ChaosInjectedAt = &injectedAt
	}

	sessionID, err := audit.NewSessionID(time.Now())
	if err != nil {
		e.cleanup(ctx, injector, chaosMetadata, logger)
		return e.fail(ctx, trial, fmt.Sprintf("mint session id: %v", err))
	}
	trial.AgentSessionID = sessionID

	timedOut, err := e.RunAgent(trialCtx, sessionID, sub, trial)
	if err != nil {
		trial.Status = StatusFailed
		trial.Error = err.Error()
	}

	finalState, snapErr := sub.SnapshotState(ctx)
	if snapErr != nil {
		logger.Error("snapshot_state failed", "error", snapErr)
	}
	finalStateJSON, _ := json.Marshal(finalState)
	trial.FinalState = string(finalStateJSON)

	if err == nil {
		trial.Status = StatusComplete
		if timedOut {
			trial.Status = StatusFailed
			trial.Error = "timeout"
		}
	}

	ended := time.Now().UTC()
	trial.EndedAt = &ended
	metaJSON, _ := json.Marshal(chaosMetadata)
	trial.ChaosMetadata = string(metaJSON)

	e.cleanup(ctx, injector, chaosMetadata, logger)
	return e.persist(ctx, trial, logger)
}

func (e *Executor) cleanup(ctx context.Context, injector chaos.Injector, metadata map[string]any, logger *slog.Logger) {
	if injector == nil {
		return
	}
	// Cleanup must never block the campaign on a stuck trial context; give
	// it its own bounded window.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := injector.Cleanup(cleanupCtx, metadata); err != nil {
		logger.Warn("chaos cleanup failed, relying on next trial's reset", "error", err)
	}
}

func (e *Executor) fail(ctx context.Context, trial Trial, reason string) Trial {
	trial.Status = StatusFailed
	trial.Error = reason
	ended := time.Now().UTC()
	trial.EndedAt = &ended
	return e.persist(ctx, trial, e.Logger)
}

func (e *Executor) persist(ctx context.Context, trial Trial, logger *slog.Logger) Trial {
	if logger == nil {
		logger = slog.Default()
	}
	if err := e.Trials.Update(ctx, trial); err != nil {
		logger.Error("failed to persist final trial record", "trial_id", trial.ID, "error", err)
	}
	return trial
}
