package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sreops/operator/pkg/monitor"
)

func newMonitorCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{Use: "monitor", Short: "Run or inspect the monitor loop."}
	cmd.AddCommand(newMonitorRunCmd(configDir))
	return cmd
}

func newMonitorRunCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop against every configured subject until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeps(ctx, *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			if len(d.cfg.Subjects) == 0 {
				return configErr("operator.yaml declares no subjects to monitor")
			}

			errs := make(chan error, len(d.cfg.Subjects))
			for name := range d.cfg.Subjects {
				name := name
				sub, checker, err := d.subjects.Get(name)
				if err != nil {
					return fmt.Errorf("construct subject %q: %w", name, err)
				}
				loop := &monitor.Loop{
					SubjectName: name,
					Subject:     sub,
					Checker:     checker,
					Tickets:     d.tickets,
					Engine:      d.engine,
					Interval:    d.cfg.Monitor.Interval(),
					Logger:      d.logger.With("subject", name),
				}
				go func() { errs <- loop.Run(ctx) }()
			}

			for range d.cfg.Subjects {
				if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return ctx.Err()
		},
	}
}
