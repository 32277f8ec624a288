package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateCampaign runs struct-tag validation plus the chaos-param checks
// spec.md §6 calls out explicitly (fill_percent bounds, min_ms ≤ max_ms,
// every chaos type supported by every listed subject). subjectSupportsParallel
// resolves spec.md §9's open question on parallelism safety: when nil, the
// check is skipped (callers that can't answer it yet, e.g. tests exercising
// only the chaos-param rules).
func ValidateCampaign(cfg CampaignConfig, subjectSupports func(subject, chaosType string) bool, subjectSupportsParallel func(subject string) bool) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("campaign config: %w", err)
	}

	for _, spec := range cfg.ChaosTypes {
		if err := validateChaosParams(spec); err != nil {
			return fmt.Errorf("campaign config: chaos type %q: %w", spec.Type, err)
		}
		if spec.Type == "none" {
			continue
		}
		for _, subj := range cfg.Subjects {
			if !subjectSupports(subj, spec.Type) {
				return fmt.Errorf("campaign config: subject %q does not support chaos type %q", subj, spec.Type)
			}
		}
	}

	if cfg.Parallel > 1 && subjectSupportsParallel != nil {
		for _, subj := range cfg.Subjects {
			if !subjectSupportsParallel(subj) {
				return fmt.Errorf("campaign config: parallel=%d requested but subject %q does not support concurrent independent trials (spec.md §9: runners must default to parallel=1 for subjects lacking isolated copies)", cfg.Parallel, subj)
			}
		}
	}
	return nil
}

func validateChaosParams(spec ChaosSpec) error {
	switch spec.Type {
	case "disk_pressure":
		pct, err := paramInt(spec.Params, "fill_percent")
		if err != nil {
			return err
		}
		if pct < 1 || pct > 99 {
			return fmt.Errorf("fill_percent must be in [1,99], got %d", pct)
		}
	case "latency":
		minMS, err := paramInt(spec.Params, "min_ms")
		if err != nil {
			return err
		}
		maxMS, err := paramInt(spec.Params, "max_ms")
		if err != nil {
			return err
		}
		if minMS > maxMS {
			return fmt.Errorf("min_ms (%d) must be <= max_ms (%d)", minMS, maxMS)
		}
	case "network_partition":
		if _, ok := spec.Params["peers"]; !ok {
			return fmt.Errorf("peers is required")
		}
	}
	return nil
}

func paramInt(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be numeric, got %T", key, v)
	}
}

// ValidateConfig runs struct-tag validation over the top-level operator
// config.
func ValidateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("operator config: %w", err)
	}
	for name, sc := range cfg.Subjects {
		if err := validate.Struct(sc); err != nil {
			return fmt.Errorf("operator config: subject %q: %w", name, err)
		}
	}
	for name, o := range cfg.InvariantOverrides {
		if err := validate.Struct(o); err != nil {
			return fmt.Errorf("operator config: invariant override %q: %w", name, err)
		}
	}
	return nil
}
