// Package cli wires config, storage, subjects, and the monitor/harness/API
// components behind the cobra command surface named in spec.md §6.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/config"
	"github.com/sreops/operator/pkg/harness"
	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/storage"
	"github.com/sreops/operator/pkg/subject"
	"github.com/sreops/operator/pkg/subject/kvstore"
	"github.com/sreops/operator/pkg/subject/ratelimiter"
	"github.com/sreops/operator/pkg/ticket"
)

// Exit codes.
const (
	ExitSuccess           = 0
	ExitOperationalFailure = 1
	ExitConfigError        = 2
	ExitInterrupted        = 130
)

// errConfig marks an error as a configuration failure (exit code 2) rather
// than an operational one (exit code 1).
type errConfig struct{ err error }

func (e errConfig) Error() string { return e.err.Error() }
func (e errConfig) Unwrap() error { return e.err }

func configErr(format string, args ...any) error {
	return errConfig{fmt.Errorf(format, args...)}
}

// factories maps operator.yaml's subject_config.factory names to the
// concrete subject.Factory constructors wired into the repo.
var factories = map[string]subject.Factory{
	"ratelimiter": ratelimiter.New,
	"kvstore":     kvstore.New,
}

// Execute parses args and runs the matching command, returning the process
// exit code (never calling os.Exit itself, so tests can invoke it).
func Execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, ctx.Err()):
		return ExitInterrupted
	case isConfigErr(err):
		return ExitConfigError
	default:
		fmt.Fprintln(os.Stderr, "operator:", err)
		return ExitOperationalFailure
	}
}

func isConfigErr(err error) bool {
	var ce errConfig
	return errors.As(err, &ce)
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "operator",
		Short:         "Autonomous SRE operator: monitor, ticket, and evaluate subject systems.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing operator.yaml and .env")

	root.AddCommand(
		newMonitorCmd(&configDir),
		newTicketsCmd(&configDir),
		newAuditCmd(&configDir),
		newEvalCmd(&configDir),
		newServeCmd(&configDir),
	)
	return root
}

// deps bundles the storage-backed components every subcommand needs,
// constructed once per invocation from operator.yaml.
type deps struct {
	cfg      *config.Config
	db       *storage.DB
	subjects *subject.Registry
	tickets  *ticket.Store
	auditStore *audit.Store
	harnessStore *harness.Store
	engine   *invariant.Engine
	logger   *slog.Logger
}

func loadDeps(ctx context.Context, configDir string) (*deps, error) {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return nil, configErr("load operator config: %w", err)
	}

	db, err := storage.Open(ctx, storage.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry := subject.NewRegistry()
	for name, sc := range cfg.Subjects {
		factory, ok := factories[sc.Factory]
		if !ok {
			return nil, configErr("operator.yaml: subject %q names unknown factory %q", name, sc.Factory)
		}
		registry.Register(name, factory, sc.Endpoints)
	}

	engineConfigs := invariant.StandardConfigs()
	for name, override := range cfg.InvariantOverrides {
		c, ok := engineConfigs[name]
		if !ok {
			continue
		}
		if override.GracePeriodSeconds != nil {
			c.GracePeriod = time.Duration(*override.GracePeriodSeconds) * time.Second
		}
		if override.Severity != "" {
			c.Severity = ticket.Severity(override.Severity)
		}
		engineConfigs[name] = c
	}

	logger := slog.Default()

	return &deps{
		cfg:          cfg,
		db:           db,
		subjects:     registry,
		tickets:      ticket.NewStore(db),
		auditStore:   audit.NewStore(db),
		harnessStore: harness.NewStore(db),
		engine:       invariant.NewEngine(engineConfigs),
		logger:       logger,
	}, nil
}

