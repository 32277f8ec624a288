package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect recorded agent sessions."}
	cmd.AddCommand(newAuditListCmd(configDir), newAuditShowCmd(configDir))
	return cmd
}

func newAuditListCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every recorded session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			sessions, err := d.auditStore.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\tstarted=%s\toutcome=%s\n", s.ID, s.StartedAt, s.Outcome)
			}
			return nil
		},
	}
}

func newAuditShowCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Replay one session's audit entries in order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			session, entries, err := d.auditStore.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("session %s started=%s ended=%v outcome=%s\n",
				session.ID, session.StartedAt, session.EndedAt, session.Outcome)
			for _, e := range entries {
				fmt.Printf("  [%d] %s/%s %s\n", e.Seq, e.Role, e.Kind, e.Payload)
			}
			return nil
		},
	}
}
