package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sreops/operator/internal/api"
)

func newServeCmd(configDir *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only HTTP API (health, tickets, audit, campaigns, metrics).",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeps(ctx, *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			reg := prometheus.NewRegistry()
			server := &api.Server{
				DB:       d.db,
				Tickets:  d.tickets,
				Audit:    d.auditStore,
				Harness:  d.harnessStore,
				Metrics:  api.NewMetrics(reg),
				Registry: reg,
			}

			httpServer := &http.Server{Addr: addr, Handler: server.Router()}
			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.ListenAndServe() }()

			fmt.Printf("serving on %s\n", addr)
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
				return ctx.Err()
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
