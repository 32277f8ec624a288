package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sreops/operator/pkg/config"
)

// ExpandMatrix builds the Cartesian product of subjects×chaos_specs,
// repeated trials_per_combination times, implementing the campaign
// matrix expansion. When IncludeBaseline is set, each subject's Specs start
// with TrialsPerCombination chaos_type="none" baseline Specs so every
// campaign also measures undisturbed behavior.
func ExpandMatrix(cfg config.CampaignConfig) []Spec {
	var specs []Spec
	idx := 0
	for _, subj := range cfg.Subjects {
		if cfg.IncludeBaseline {
			for i := 0; i < cfg.TrialsPerCombination; i++ {
				specs = append(specs, Spec{Subject: subj, ChaosType: "none", Params: nil, Index: idx})
				idx++
			}
		}
		for _, chaosSpec := range cfg.ChaosTypes {
			for i := 0; i < cfg.TrialsPerCombination; i++ {
				specs = append(specs, Spec{Subject: subj, ChaosType: chaosSpec.Type, Params: chaosSpec.Params, Index: idx})
				idx++
			}
		}
	}
	return specs
}

// Runner drives a campaign to completion: expand the matrix, persist
// pending Trial rows up front, then run the queue with bounded concurrency,
// a cooldown between trial starts, and cancellation support.
type Runner struct {
	Executor *Executor
	Trials   *Store
	Logger   *slog.Logger
}

// RunCampaign executes every pending/running trial belonging to campaignID
// (as returned by ExpandMatrix and inserted via Start, or re-enumerated via
// Resume) with at most cfg.Parallel concurrent trials and a
// cfg.CooldownSeconds pause between successive trial starts. It returns
// once every trial has reached a terminal status or ctx is cancelled; on
// cancellation, trials already running are allowed to finish their current
// step (Executor.Run does not poll ctx mid-step beyond what the subject/
// chaos/agent calls themselves respect), but no new trial is started.
func (r *Runner) RunCampaign(ctx context.Context, campaignID string, parallel int, cooldown time.Duration, trials []Trial) ([]Trial, error) {
	if parallel < 1 {
		parallel = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sem := semaphore.NewWeighted(int64(parallel))
	results := make([]Trial, len(trials))

	type job struct {
		idx   int
		trial Trial
	}
	jobs := make(chan job)

	done := make(chan struct{})
	go func() {
		defer close(jobs)
		for i, t := range trials {
			select {
			case <-ctx.Done():
				return
			case jobs <- job{idx: i, trial: t}:
			}
			if cooldown > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(cooldown):
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		defer close(done)
		var active int64
		finished := make(chan struct{}, len(trials))
		for j := range jobs {
			if err := sem.Acquire(ctx, 1); err != nil {
				errCh <- err
				return
			}
			active++
			go func(j job) {
				defer sem.Release(1)
				defer func() { finished <- struct{}{} }()
				logger.Info("trial starting", "trial_id", j.trial.ID, "subject", j.trial.Subject, "chaos_type", j.trial.ChaosType)
				results[j.idx] = r.Executor.Run(ctx, j.trial)
			}(j)
		}
		for i := int64(0); i < active; i++ {
			<-finished
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return results, err
	}

	return results, ctx.Err()
}

// Start creates a new campaign row and its full set of pending Trial rows,
// returning the campaign id and the inserted trials ready for RunCampaign.
func Start(ctx context.Context, store *Store, cfg config.CampaignConfig) (string, []Trial, error) {
	campaignID := uuid.NewString()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, fmt.Errorf("marshal campaign config: %w", err)
	}
	if _, err := store.CreateCampaign(ctx, campaignID, cfg.Name, string(cfgJSON)); err != nil {
		return "", nil, fmt.Errorf("create campaign: %w", err)
	}

	specs := ExpandMatrix(cfg)
	trials := make([]Trial, 0, len(specs))
	for _, spec := range specs {
		t := NewPendingTrial(campaignID, spec)
		if err := store.Insert(ctx, t); err != nil {
			return campaignID, trials, fmt.Errorf("insert trial %s: %w", t.ID, err)
		}
		trials = append(trials, t)
	}
	return campaignID, trials, nil
}

// Resume re-enumerates a campaign's pending/running trials for a restarted
// process: any trial left in "running" status did not survive its prior
// process and is retried from the top (Reset makes this safe even though
// chaos may still be active from the interrupted attempt).
func Resume(ctx context.Context, store *Store, campaignID string) ([]Trial, error) {
	return store.Incomplete(ctx, campaignID)
}
