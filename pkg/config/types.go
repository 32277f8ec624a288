package config

import "time"

// Config is the top-level operator.yaml document: subject wiring, monitor
// scheduling, invariant overrides, and audit retention.
type Config struct {
	Subjects            map[string]SubjectConfig      `yaml:"subjects"`
	Monitor             MonitorConfig                 `yaml:"monitor"`
	Audit               AuditConfig                   `yaml:"audit"`
	InvariantOverrides  map[string]InvariantOverride   `yaml:"invariant_overrides"`
	DatabasePath        string                         `yaml:"database_path"`
}

// SubjectConfig names which factory to construct a subject from and the
// endpoint map that factory needs (control_plane_url, metrics_url, etc.).
type SubjectConfig struct {
	Factory   string            `yaml:"factory" validate:"required"`
	Endpoints map[string]string `yaml:"endpoints"`
}

// MonitorConfig controls the C4 scheduler loop.
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" validate:"min=0"`
}

// Interval returns the configured tick interval, defaulting to 30s per
// spec.md §4.4 when unset.
func (m MonitorConfig) Interval() time.Duration {
	if m.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.IntervalSeconds) * time.Second
}

// AuditConfig controls audit retention.
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days" validate:"min=0"`
}

// InvariantOverride lets an operator.yaml tune a standard invariant's
// grace period or severity without touching code.
type InvariantOverride struct {
	GracePeriodSeconds *int   `yaml:"grace_period_seconds"`
	Severity           string `yaml:"severity" validate:"omitempty,oneof=critical warning info"`
}

// ChaosSpec names one chaos type and its parameters within a campaign.
type ChaosSpec struct {
	Type   string         `yaml:"type" validate:"required,oneof=node_kill latency disk_pressure network_partition none"`
	Params map[string]any `yaml:"params"`
}

// CampaignConfig is the YAML document consumed by `eval run campaign`.
type CampaignConfig struct {
	Name                 string      `yaml:"name" validate:"required"`
	Subjects             []string    `yaml:"subjects" validate:"required,min=1"`
	ChaosTypes           []ChaosSpec `yaml:"chaos_types" validate:"required,min=1,dive"`
	TrialsPerCombination int         `yaml:"trials_per_combination" validate:"min=1"`
	Parallel             int         `yaml:"parallel" validate:"min=1,max=10"`
	CooldownSeconds      int         `yaml:"cooldown_seconds" validate:"min=0"`
	IncludeBaseline      bool        `yaml:"include_baseline"`
}

// WithDefaults returns a copy of c with zero-valued optional fields set to
// their spec.md §6 defaults.
func (c CampaignConfig) WithDefaults() CampaignConfig {
	if c.TrialsPerCombination == 0 {
		c.TrialsPerCombination = 1
	}
	if c.Parallel == 0 {
		c.Parallel = 1
	}
	return c
}
