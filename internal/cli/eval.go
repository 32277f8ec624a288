package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/sreops/operator/pkg/agentrt"
	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/chaos"
	"github.com/sreops/operator/pkg/config"
	"github.com/sreops/operator/pkg/containermgr"
	"github.com/sreops/operator/pkg/harness"
	"github.com/sreops/operator/pkg/subject"
)

func newEvalCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{Use: "eval", Short: "Run evaluation campaigns against configured subjects."}
	cmd.AddCommand(newEvalRunCmd(configDir))
	return cmd
}

func newEvalRunCmd(configDir *string) *cobra.Command {
	evalRun := &cobra.Command{Use: "run", Short: "Run an evaluation."}
	evalRun.AddCommand(newEvalRunCampaignCmd(configDir))
	return evalRun
}

func newEvalRunCampaignCmd(configDir *string) *cobra.Command {
	var anthropicModel string
	var shellTimeout time.Duration
	var maxTurns int

	cmd := &cobra.Command{
		Use:   "campaign <file>",
		Short: "Run the trial matrix described by a campaign.yaml file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeps(ctx, *configDir)
			if err != nil {
				return err
			}
			defer d.db.Close()

			subjectSupports := func(name, chaosType string) bool {
				if chaosType == "none" {
					return true
				}
				sub, _, err := d.subjects.Get(name)
				if err != nil {
					return false
				}
				for _, t := range sub.SupportsChaos() {
					if t == chaosType {
						return true
					}
				}
				return false
			}
			subjectSupportsParallel := func(name string) bool {
				sub, _, err := d.subjects.Get(name)
				if err != nil {
					return false
				}
				return sub.SupportsParallelTrials()
			}

			campaignCfg, err := config.LoadCampaign(args[0], subjectSupports, subjectSupportsParallel)
			if err != nil {
				return configErr("load campaign file: %w", err)
			}

			mgr, err := containermgr.New()
			if err != nil {
				return fmt.Errorf("connect to container manager: %w", err)
			}
			defer mgr.Close()
			chaosRegistry := chaos.NewRegistry(mgr)

			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				return configErr("ANTHROPIC_API_KEY must be set (in the environment or .env) to run an evaluation campaign")
			}
			provider := agentrt.NewAnthropicProvider(apiKey, anthropic.Model(anthropicModel), 0)

			executor := &harness.Executor{
				Subjects: d.subjects,
				Chaos:    chaosRegistry,
				Trials:   d.harnessStore,
				Audit:    d.auditStore,
				Logger:   d.logger,
				RunAgent: func(ctx context.Context, sessionID string, sub subject.Subject, trial harness.Trial) (bool, error) {
					return runTrialAgent(ctx, d.auditStore, provider, sessionID, sub, trial, shellTimeout, maxTurns)
				},
			}

			campaignID, trials, err := harness.Start(ctx, d.harnessStore, *campaignCfg)
			if err != nil {
				return fmt.Errorf("start campaign: %w", err)
			}

			runner := &harness.Runner{Executor: executor, Trials: d.harnessStore, Logger: d.logger}
			results, err := runner.RunCampaign(ctx, campaignID, campaignCfg.Parallel,
				time.Duration(campaignCfg.CooldownSeconds)*time.Second, trials)
			if err != nil {
				return err
			}

			fmt.Printf("campaign %s: %d trials complete\n", campaignID, len(results))
			printCampaignSummary(results)
			return nil
		},
	}
	cmd.Flags().StringVar(&anthropicModel, "model", "claude-sonnet-4-5", "language model provider model id")
	cmd.Flags().DurationVar(&shellTimeout, "shell-timeout", agentrt.DefaultShellTimeout, "per-command shell timeout")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 30, "maximum agent conversation turns per trial")
	return cmd
}

func runTrialAgent(ctx context.Context, store *audit.Store, provider agentrt.Provider, sessionID string,
	sub subject.Subject, trial harness.Trial, shellTimeout time.Duration, maxTurns int) (bool, error) {

	if _, err := store.StartSession(ctx, sessionID, time.Now()); err != nil {
		return false, fmt.Errorf("start audit session: %w", err)
	}

	initialContext := fmt.Sprintf(
		"A %s fault was injected against the %q subject. Investigate using the shell tool and take any remediation you judge necessary.",
		trial.ChaosType, trial.Subject)

	runErr := agentrt.Run(ctx, agentrt.Config{
		Provider:     provider,
		Audit:        store,
		SessionID:    sessionID,
		System:       "You are an autonomous site-reliability engineer. Investigate the reported condition and remediate it using the shell tool.",
		MaxTurns:     maxTurns,
		ShellTimeout: shellTimeout,
	}, initialContext)

	outcome := "completed"
	timedOut := false
	if runErr != nil {
		outcome = "error"
		if ctx.Err() != nil {
			outcome = "timeout"
			timedOut = true
		}
	}
	_ = store.EndSession(ctx, sessionID, outcome, time.Now())
	return timedOut, runErr
}

func printCampaignSummary(results []harness.Trial) {
	for _, t := range results {
		status := "failure"
		if t.Status == harness.StatusComplete {
			status = "success"
		}
		fmt.Printf("  trial %s (%s/%s): %s\n", t.ID, t.Subject, t.ChaosType, status)
	}
}
