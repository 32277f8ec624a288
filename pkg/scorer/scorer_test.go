package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func classifyAlways(category CommandCategory) ClassifyFunc {
	return func(string) (CommandCategory, error) { return category, nil }
}

func TestScoreTrial_SuccessWhenResolvedAndHealthy(t *testing.T) {
	injected := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	firstSeen := injected.Add(5 * time.Second)
	resolved := injected.Add(30 * time.Second)

	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: injected,
		FinalStateOK:    true,
		Tickets:         []TicketRecord{{FirstSeen: firstSeen, ResolvedAt: &resolved}},
	}, classifyAlways(CategoryDiagnostic))

	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, score.Outcome)
	require.NotNil(t, score.TimeToDetect)
	require.Equal(t, 5*time.Second, *score.TimeToDetect)
	require.NotNil(t, score.TimeToResolve)
	require.Equal(t, 30*time.Second, *score.TimeToResolve)
}

func TestScoreTrial_TimeoutOverridesOutcome(t *testing.T) {
	injected := time.Now()
	resolved := injected.Add(time.Minute)
	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: injected,
		TimedOut:        true,
		FinalStateOK:    true,
		Tickets:         []TicketRecord{{FirstSeen: injected, ResolvedAt: &resolved}},
	}, classifyAlways(CategoryDiagnostic))

	require.NoError(t, err)
	require.Equal(t, OutcomeTimeout, score.Outcome)
	require.Nil(t, score.TimeToResolve, "timeout trials never report time-to-resolve even if a ticket resolved")
}

func TestScoreTrial_FailureWhenNoTicketsResolved(t *testing.T) {
	injected := time.Now()
	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: injected,
		FinalStateOK:    false,
		Tickets:         []TicketRecord{{FirstSeen: injected}},
	}, classifyAlways(CategoryDiagnostic))

	require.NoError(t, err)
	require.Equal(t, OutcomeFailure, score.Outcome)
}

func TestScoreTrial_CountsDestructiveUniqueCommands(t *testing.T) {
	injected := time.Now()
	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: injected,
		ToolCalls: []AuditEntryRecord{
			{Timestamp: injected, Kind: "tool_call", Command: "rm -rf /data"},
			{Timestamp: injected, Kind: "tool_call", Command: "rm -rf /data"},
			{Timestamp: injected, Kind: "tool_call", Command: "systemctl status"},
		},
	}, classifyAlways(CategoryDestructive))

	require.NoError(t, err)
	require.Equal(t, 3, score.CommandCount)
	require.Equal(t, 2, score.UniqueCommandCount)
	require.Equal(t, 2, score.DestructiveCount)
}

func TestScoreTrial_DetectsThrashingWithinSlidingWindow(t *testing.T) {
	base := time.Now()
	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: base,
		ToolCalls: []AuditEntryRecord{
			{Timestamp: base, Kind: "tool_call", Command: "docker restart n1"},
			{Timestamp: base.Add(20 * time.Second), Kind: "tool_call", Command: "docker restart n1"},
			{Timestamp: base.Add(40 * time.Second), Kind: "tool_call", Command: "docker restart n1"},
		},
	}, classifyAlways(CategoryRemediation))

	require.NoError(t, err)
	require.True(t, score.ThrashingDetected)
}

func TestScoreTrial_NoThrashingWhenOutsideWindow(t *testing.T) {
	base := time.Now()
	score, err := ScoreTrial(TrialInput{
		ChaosInjectedAt: base,
		ToolCalls: []AuditEntryRecord{
			{Timestamp: base, Kind: "tool_call", Command: "docker restart n1"},
			{Timestamp: base.Add(70 * time.Second), Kind: "tool_call", Command: "docker restart n1"},
			{Timestamp: base.Add(140 * time.Second), Kind: "tool_call", Command: "docker restart n1"},
		},
	}, classifyAlways(CategoryRemediation))

	require.NoError(t, err)
	require.False(t, score.ThrashingDetected)
}

func TestScoreTrial_IsPure(t *testing.T) {
	injected := time.Now()
	resolved := injected.Add(10 * time.Second)
	input := TrialInput{
		ChaosInjectedAt: injected,
		FinalStateOK:    true,
		Tickets:         []TicketRecord{{FirstSeen: injected, ResolvedAt: &resolved}},
		ToolCalls:       []AuditEntryRecord{{Timestamp: injected, Kind: "tool_call", Command: "ls"}},
	}

	s1, err := ScoreTrial(input, classifyAlways(CategoryDiagnostic))
	require.NoError(t, err)
	s2, err := ScoreTrial(input, classifyAlways(CategoryDiagnostic))
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestAnalyzeCampaign_WinRateAndAverages(t *testing.T) {
	d1 := 10 * time.Second
	d2 := 20 * time.Second
	summary := AnalyzeCampaign(CampaignInput{Scores: []Score{
		{Outcome: OutcomeSuccess, TimeToResolve: &d1},
		{Outcome: OutcomeSuccess, TimeToResolve: &d2},
		{Outcome: OutcomeFailure},
	}})

	require.InDelta(t, 2.0/3.0, summary.WinRate, 0.0001)
	require.NotNil(t, summary.AvgTimeToResolve)
	require.Equal(t, 15*time.Second, *summary.AvgTimeToResolve)
}

func TestAnalyzeCampaign_EmptyTrialsYieldsZeroSummary(t *testing.T) {
	summary := AnalyzeCampaign(CampaignInput{})
	require.Equal(t, 0.0, summary.WinRate)
	require.Nil(t, summary.AvgTimeToResolve)
}

func TestWinner_HigherWinRateWins(t *testing.T) {
	a := Summary{WinRate: 0.8}
	b := Summary{WinRate: 0.5}
	require.Equal(t, 0, Winner(a, b))
}

func TestWinner_TieBreaksOnLowerAverageResolveTime(t *testing.T) {
	fast := 5 * time.Second
	slow := 50 * time.Second
	a := Summary{WinRate: 0.5, AvgTimeToResolve: &fast}
	b := Summary{WinRate: 0.5, AvgTimeToResolve: &slow}
	require.Equal(t, 0, Winner(a, b))
}
