// Package invariant implements the stateful invariant engine (C2): grace
// periods, severity, and per-entity keying over a subject's observation.
package invariant

import (
	"log/slog"
	"time"

	"github.com/sreops/operator/pkg/ticket"
)

// Scope identifies whether an invariant is evaluated per-entity or once per
// cluster.
type Scope string

const (
	ScopePerEntity Scope = "per-entity"
	ScopeCluster   Scope = "cluster"
)

// Config declares one invariant's static properties, matching spec.md §3's
// InvariantConfig: name, severity, grace period, scope.
type Config struct {
	Name        string
	Severity    ticket.Severity
	GracePeriod time.Duration
	Scope       Scope
}

// Standard invariant names every subject adapter is expected to provide.
const (
	EntityUnreachable     = "entity_unreachable"
	ControlPlaneDown      = "control_plane_down"
	HighLatency           = "high_latency"
	PolicyDrift           = "policy_drift"
	Misconfiguration      = "misconfiguration"
)

// StandardConfigs returns the grace-period/severity declarations for the
// five standard invariants named in spec.md §4.1. Subject-specific
// invariants are appended by the caller's InvariantChecker.
func StandardConfigs() map[string]Config {
	return map[string]Config{
		EntityUnreachable: {Name: EntityUnreachable, Severity: ticket.SeverityCritical, GracePeriod: 0, Scope: ScopePerEntity},
		ControlPlaneDown:  {Name: ControlPlaneDown, Severity: ticket.SeverityCritical, GracePeriod: 0, Scope: ScopeCluster},
		HighLatency:       {Name: HighLatency, Severity: ticket.SeverityWarning, GracePeriod: 60 * time.Second, Scope: ScopePerEntity},
		PolicyDrift:       {Name: PolicyDrift, Severity: ticket.SeverityWarning, GracePeriod: 30 * time.Second, Scope: ScopeCluster},
		Misconfiguration:  {Name: Misconfiguration, Severity: ticket.SeverityWarning, GracePeriod: 0, Scope: ScopeCluster},
	}
}

// Finding is what a subject-specific checker reports for one invariant on
// one check cycle: either "violated" (with an optional entity and message)
// or "clean".
type Finding struct {
	InvariantName string
	EntityID      string // empty for cluster-scoped findings
	Violated      bool
	Message       string
}

func (f Finding) key() string {
	if f.EntityID == "" {
		return f.InvariantName
	}
	return f.InvariantName + ":" + f.EntityID
}

// Engine holds the per-key first-seen grace-period state. It is not safe
// for concurrent use; spec.md §5 scopes it to the single monitor worker.
//
// Per spec.md §3, this map is the invariant engine's exclusively-owned
// state and is intentionally lost on process restart (best-effort flap
// tracking).
type Engine struct {
	configs   map[string]Config
	firstSeen map[string]time.Time
}

// NewEngine creates an engine seeded with configs (typically
// StandardConfigs merged with subject-specific invariants).
func NewEngine(configs map[string]Config) *Engine {
	return &Engine{
		configs:   configs,
		firstSeen: make(map[string]time.Time),
	}
}

// Evaluate applies the grace-period rule to a batch of findings for the
// current tick and returns the violations that should be emitted. It is
// idempotent within a tick: re-running with the same findings at the same
// `now` yields the same result, because firstSeen state is only mutated
// here and read back deterministically.
//
// A finding for an invariant with no matching Config is skipped (and
// logged) rather than causing the whole tick to fail, matching spec.md
// §4.2's "a checker computation ... MUST NOT abort the tick" failure model
// extended to configuration gaps.
func (e *Engine) Evaluate(now time.Time, findings []Finding) []ticket.Violation {
	var violations []ticket.Violation
	seenThisTick := make(map[string]bool, len(findings))

	for _, f := range findings {
		cfg, ok := e.configs[f.InvariantName]
		if !ok {
			slog.Warn("invariant finding has no matching config, skipping", "invariant", f.InvariantName)
			continue
		}
		key := f.key()
		seenThisTick[key] = true

		if !f.Violated {
			delete(e.firstSeen, key)
			continue
		}

		first, tracked := e.firstSeen[key]
		if !tracked {
			first = now
			e.firstSeen[key] = first
		}

		if now.Sub(first) >= cfg.GracePeriod {
			violations = append(violations, ticket.Violation{
				InvariantName: f.InvariantName,
				EntityID:      f.EntityID,
				Severity:      cfg.Severity,
				Message:       f.Message,
				Timestamp:     now,
			})
		}
	}

	// Findings the checker did not report this tick (e.g. an entity that
	// disappeared) are treated as clean: restart the grace clock on next
	// sighting rather than leaving stale state forever.
	for key := range e.firstSeen {
		if !seenThisTick[key] {
			delete(e.firstSeen, key)
		}
	}

	return violations
}

// RecordCheckerFailure logs that an invariant's checker computation failed
// this tick. It only logs: it does not protect that invariant's grace
// state, and the next Evaluate call drops the first-seen time of every key
// missing from its findings, so the grace clock restarts on the key's next
// sighting.
func (e *Engine) RecordCheckerFailure(invariantName string, err error) {
	slog.Error("invariant checker computation failed, skipping for this tick",
		"invariant", invariantName, "error", err)
}
