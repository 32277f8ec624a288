package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads operator.yaml from dir, expanding environment variable
// references and overlaying a sibling .env file if present.
func Initialize(ctx context.Context, dir string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	path := filepath.Join(dir, "operator.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = ExpandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(dir, "operator.db")
	}
	return &cfg, nil
}

// LoadCampaign loads and validates a campaign YAML file named on the
// `eval run campaign <file>` command line. subjectSupportsParallel may be
// nil to skip the parallelism-safety cross-check (see ValidateCampaign).
func LoadCampaign(path string, subjectSupports func(subject, chaosType string) bool, subjectSupportsParallel func(subject string) bool) (*CampaignConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = ExpandEnv(raw)

	var cfg CampaignConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg = cfg.WithDefaults()

	if err := ValidateCampaign(cfg, subjectSupports, subjectSupportsParallel); err != nil {
		return nil, err
	}
	return &cfg, nil
}
