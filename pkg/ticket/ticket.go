// Package ticket implements the deduplicated, flap-aware violation log
// described in spec.md §3 and §4.3 (C3): exactly one non-resolved ticket
// per violation key, with occurrence counting, holds, and lifecycle
// transitions from open through resolved.
package ticket

import "time"

// Status is a ticket's lifecycle state. Status progresses monotonically
// through the listed order except that "resolved" is terminal.
type Status string

const (
	StatusOpen        Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusDiagnosed    Status = "diagnosed"
	StatusResolved     Status = "resolved"
)

// Severity is an invariant's severity level. It is defined here, and used
// by invariant.Config, so that ticket stays a leaf package with no
// dependency on the invariant engine.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Ticket is a persistent record of a violation across time.
type Ticket struct {
	ID              int64      `db:"id" json:"id"`
	ViolationKey    string     `db:"violation_key" json:"violation_key"`
	InvariantName   string     `db:"invariant_name" json:"invariant_name"`
	EntityID        string     `db:"entity_id" json:"entity_id,omitempty"`
	Status          Status     `db:"status" json:"status"`
	Held            bool       `db:"held" json:"held"`
	BatchKey        string     `db:"batch_key" json:"batch_key"`
	OccurrenceCount int        `db:"occurrence_count" json:"occurrence_count"`
	FirstSeen       time.Time  `db:"first_seen" json:"first_seen"`
	LastSeen        time.Time  `db:"last_seen" json:"last_seen"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	Severity        Severity   `db:"severity" json:"severity"`
	Message         string     `db:"message" json:"message"`
	MetricSnapshot  string     `db:"metric_snapshot" json:"metric_snapshot,omitempty"`
	Diagnosis       string     `db:"diagnosis" json:"diagnosis,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Violation is the input to open_or_update: a single invariant violation
// produced by the invariant engine for the current tick.
type Violation struct {
	InvariantName string
	EntityID      string // empty for cluster-scoped invariants
	Severity      Severity
	Message       string
	Timestamp     time.Time
}

// Key returns the dedup key: invariant_name, optionally suffixed by entity id.
func (v Violation) Key() string {
	if v.EntityID == "" {
		return v.InvariantName
	}
	return v.InvariantName + ":" + v.EntityID
}
