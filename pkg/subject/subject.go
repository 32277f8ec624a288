// Package subject defines the polymorphic interface over heterogeneous
// distributed systems (C1): observe, check invariants, enumerate and
// execute actions. Concrete adapters live in subpackages (ratelimiter,
// kvstore); this package holds only the capability-set contract and the
// data types that cross it.
package subject

import (
	"context"
	"time"

	"github.com/sreops/operator/pkg/invariant"
)

// EntityState is the observed liveness state of one entity.
type EntityState string

const (
	EntityUp      EntityState = "up"
	EntityDown    EntityState = "down"
	EntityUnknown EntityState = "unknown"
)

// Entity is one named resource within a subject (a node, a shard, a store).
type Entity struct {
	ID      string
	Address string
	State   EntityState
	Metrics EntityMetrics
}

// EntityMetrics holds the per-entity measurements invariants evaluate.
type EntityMetrics struct {
	P99LatencyMS float64
	ThroughputQPS float64
	ResourceUsePct float64
}

// ClusterFacts holds cluster-level counters and connectivity flags.
type ClusterFacts struct {
	ControlPlaneReachable bool
	Counters              map[string]int64
	Flags                 map[string]bool
}

// Observation is the opaque payload produced once per monitor tick by
// observe(). It is transient: created, consumed by the invariant checker,
// and optionally snapshotted into a ticket's MetricSnapshot.
type Observation struct {
	Timestamp time.Time
	Entities  []Entity
	Cluster   ClusterFacts
}

// ObserveErrorKind distinguishes retryable transport failures from fatal
// configuration/auth failures.
type ObserveErrorKind string

const (
	ObserveErrorTransient ObserveErrorKind = "transient"
	ObserveErrorFatal     ObserveErrorKind = "fatal"
)

// ObserveError wraps an observe() failure with its retry-policy kind.
type ObserveError struct {
	Kind ObserveErrorKind
	Err  error
}

func (e *ObserveError) Error() string { return e.Err.Error() }
func (e *ObserveError) Unwrap() error { return e.Err }

// ActionErrorKind classifies why execute_action failed.
type ActionErrorKind string

const (
	ActionErrorUnknownAction  ActionErrorKind = "unknown_action"
	ActionErrorInvalidParams  ActionErrorKind = "invalid_params"
	ActionErrorRemoteRejected ActionErrorKind = "remote_rejected"
	ActionErrorTransport      ActionErrorKind = "transport"
)

// ActionError wraps an execute_action failure. Per spec.md §7 ("Action
// error ... propagate raw error text through to the agent (no
// translation)"), Error() returns the underlying message verbatim.
type ActionError struct {
	Kind ActionErrorKind
	Err  error
}

func (e *ActionError) Error() string { return e.Err.Error() }
func (e *ActionError) Unwrap() error { return e.Err }

// RiskLevel is an action's declared blast radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParamSpec describes one parameter of an ActionDefinition.
type ParamSpec struct {
	Type        string
	Description string
	Required    bool
}

// ActionDefinition is a static, per-subject catalog entry describing one
// callable action.
type ActionDefinition struct {
	Name             string
	Description      string
	Parameters       map[string]ParamSpec
	Risk             RiskLevel
	RequiresApproval bool
}

// Config is the informational descriptor returned by get_config().
type Config struct {
	Name string
	SLOs []string
}

// Subject is the capability set every adapter implements: observe, list
// actions, execute an action, and describe itself. Fire-and-forget
// semantics apply to ExecuteAction: it returns once the control plane
// accepts the request, without polling for effect.
type Subject interface {
	Observe(ctx context.Context) (*Observation, error)
	ListActionDefinitions() []ActionDefinition
	ExecuteAction(ctx context.Context, name string, params map[string]any) error
	GetConfig() Config

	// Reset restores the subject to a known-healthy baseline and blocks
	// until healthy or ctx is done. Used exclusively by the evaluation
	// harness; the monitor never calls it.
	Reset(ctx context.Context) error

	// SnapshotState captures a subject-defined JSON-able document used by
	// the harness to score trial outcomes
	// and by the scorer's is_healthy predicate.
	SnapshotState(ctx context.Context) (map[string]any, error)

	// IsHealthy evaluates a snapshot produced by SnapshotState. Read-only;
	// used by the scorer (C8) and never by the monitor.
	IsHealthy(state map[string]any) bool

	// SupportsChaos reports which chaos type names this
	// subject advertises support for.
	SupportsChaos() []string

	// SupportsParallelTrials reports whether independent copies of this
	// subject can run concurrently. When false,
	// config.ValidateCampaign rejects a campaign with parallel > 1.
	SupportsParallelTrials() bool
}

// Checker evaluates an Observation and returns invariant findings. It is
// subject-specific because invariant semantics depend on the domain;
// constructed alongside the Subject by a per-subject Factory.
type Checker interface {
	Check(obs *Observation) []invariant.Finding
	Configs() map[string]invariant.Config
}

// Factory constructs a (Subject, Checker) pair from subject-specific
// endpoint configuration. Registered per subject name in a Registry.
type Factory func(endpoints map[string]string) (Subject, Checker, error)
