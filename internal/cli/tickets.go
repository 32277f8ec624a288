package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sreops/operator/pkg/ticket"
)

func newTicketsCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{Use: "tickets", Short: "List and manage tickets."}

	var statusFlag, severityFlag string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tickets, optionally filtered by status or severity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			tickets, err := d.tickets.List(cmd.Context(), ticket.ListFilter{
				Status:   ticket.Status(statusFlag),
				Severity: ticket.Severity(severityFlag),
			})
			if err != nil {
				return err
			}
			for _, t := range tickets {
				fmt.Printf("#%d\t%s\t%s\t%s\toccurrences=%d\t%s\n",
					t.ID, t.Severity, t.Status, t.InvariantName, t.OccurrenceCount, t.Message)
			}
			return nil
		},
	}
	list.Flags().StringVar(&statusFlag, "status", "", "filter by status (open|acknowledged|diagnosed|resolved)")
	list.Flags().StringVar(&severityFlag, "severity", "", "filter by severity (critical|warning|info)")

	cmd.AddCommand(list, newTicketShowCmd(configDir), newTicketResolveCmd(configDir),
		newTicketHoldCmd(configDir), newTicketUnholdCmd(configDir))
	return cmd
}

func newTicketShowCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single ticket in full.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return configErr("invalid ticket id %q: %w", args[0], err)
			}
			d, err := loadDeps(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			t, err := d.tickets.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("id: %d\nviolation_key: %s\nstatus: %s\nseverity: %s\nheld: %v\n"+
				"occurrence_count: %d\nfirst_seen: %s\nlast_seen: %s\nmessage: %s\ndiagnosis: %s\n",
				t.ID, t.ViolationKey, t.Status, t.Severity, t.Held,
				t.OccurrenceCount, t.FirstSeen, t.LastSeen, t.Message, t.Diagnosis)
			return nil
		},
	}
}

func newTicketResolveCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a ticket, clearing any hold.",
		Args:  cobra.ExactArgs(1),
		RunE:  ticketMutation(configDir, (*deps).resolveTicket),
	}
}

func newTicketHoldCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hold <id>",
		Short: "Hold a ticket, suppressing auto-resolution.",
		Args:  cobra.ExactArgs(1),
		RunE:  ticketMutation(configDir, (*deps).holdTicket),
	}
}

func newTicketUnholdCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unhold <id>",
		Short: "Clear a ticket's hold.",
		Args:  cobra.ExactArgs(1),
		RunE:  ticketMutation(configDir, (*deps).unholdTicket),
	}
}

func (d *deps) resolveTicket(ctx context.Context, id int64) error { return d.tickets.Resolve(ctx, id) }
func (d *deps) holdTicket(ctx context.Context, id int64) error    { return d.tickets.Hold(ctx, id) }
func (d *deps) unholdTicket(ctx context.Context, id int64) error  { return d.tickets.Unhold(ctx, id) }

func ticketMutation(configDir *string, apply func(d *deps, ctx context.Context, id int64) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return configErr("invalid ticket id %q: %w", args[0], err)
		}
		d, err := loadDeps(cmd.Context(), *configDir)
		if err != nil {
			return err
		}
		defer d.db.Close()
		if err := apply(d, cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("ticket #%d updated\n", id)
		return nil
	}
}
