// Package monitor implements the C4 scheduler: a single-worker cooperative
// loop that observes a subject, evaluates invariants, writes tickets, and
// auto-resolves what's gone quiet, once per tick, with signal-driven
// graceful shutdown.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/subject"
	"github.com/sreops/operator/pkg/ticket"
)

// Loop drives one subject's observe→check→ticket cycle at a fixed
// interval. Scheduling model is single worker, serial ticks, matching
// spec.md §5: "No intra-tick concurrency."
type Loop struct {
	SubjectName string
	Subject     subject.Subject
	Checker     subject.Checker
	Tickets     *ticket.Store
	Engine      *invariant.Engine
	Interval    time.Duration
	// ObserveDeadline bounds one observe() call; if exceeded the tick is
	// abandoned and a synthetic control_plane_down violation is emitted.
	// Defaults to Interval minus a small margin when zero.
	ObserveDeadline time.Duration
	Logger          *slog.Logger
}

// Run executes ticks until ctx is cancelled. The between-tick wait is
// interrupted immediately on cancellation; an in-flight tick always runs
// to completion first.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := l.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	deadline := l.ObserveDeadline
	if deadline <= 0 {
		deadline = interval - (interval / 10)
		if deadline <= 0 {
			deadline = interval
		}
	}

	for {
		l.tick(ctx, deadline, logger)

		select {
		case <-ctx.Done():
			logger.Info("monitor loop stopping", "subject", l.SubjectName)
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (l *Loop) tick(ctx context.Context, deadline time.Duration, logger *slog.Logger) {
	batchKey := time.Now().UTC().Format(time.RFC3339)
	logger = logger.With("subject", l.SubjectName, "batch_key", batchKey)

	obsCtx, cancel := context.WithTimeout(ctx, deadline)
	obs, err := l.Subject.Observe(obsCtx)
	cancel()

	if err != nil {
		// A failed/timed-out observe is blind: we have no evidence any
		// other key cleared, so we open/update only the synthetic
		// control_plane_down ticket and skip AutoResolve entirely this
		// tick. Calling AutoResolve with a present-set of just
		// {control_plane_down} would otherwise read as "everything else
		// is healthy" and spuriously resolve every genuinely-open ticket.
		logger.Warn("observe failed, emitting synthetic control_plane_down violation", "error", err)
		v := ticket.Violation{
			InvariantName: invariant.ControlPlaneDown,
			Severity:      ticket.SeverityCritical,
			Message:       fmt.Sprintf("observe failed: %v", err),
			Timestamp:     time.Now().UTC(),
		}
		if _, err := l.Tickets.OpenOrUpdate(ctx, v, batchKey, nil); err != nil {
			logger.Error("failed to open or update ticket", "violation_key", v.Key(), "error", err)
		}
		logger.Info("monitor heartbeat", "violation_count", 1)
		return
	}

	findings := l.Checker.Check(obs)
	violations := l.Engine.Evaluate(time.Now().UTC(), findings)

	snapshot := map[string]any{"entities": obs.Entities, "cluster": obs.Cluster}

	presentKeys := make([]string, 0, len(violations))
	for _, v := range violations {
		presentKeys = append(presentKeys, v.Key())
		if _, err := l.Tickets.OpenOrUpdate(ctx, v, batchKey, snapshot); err != nil {
			logger.Error("failed to open or update ticket", "violation_key", v.Key(), "error", err)
		}
	}

	if err := l.Tickets.AutoResolve(ctx, presentKeys); err != nil {
		logger.Error("auto-resolve failed", "error", err)
	}

	logger.Info("monitor heartbeat", "violation_count", len(violations))
}
