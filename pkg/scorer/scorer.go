// Package scorer implements C8: deterministic outcome classification for
// one trial and aggregation across a campaign. Every function here is
// read-only over its inputs — spec.md §4.8: "All scorer functions MUST be
// read-only" — and pure: same inputs always produce the same score
// (testable property 9).
package scorer

import (
	"time"
)

// Outcome classifies how a trial ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// TicketRecord is the subset of a ticket row the scorer needs.
type TicketRecord struct {
	FirstSeen  time.Time
	ResolvedAt *time.Time
}

// AuditEntryRecord is the subset of an audit entry the scorer needs.
type AuditEntryRecord struct {
	Timestamp time.Time
	Kind      string // "tool_call" entries are what command counting looks at
	Command   string // normalized command string, extracted by the caller from tool params
}

// ClassifyFunc maps a unique command string to a destructive-command
// category. Callers inject this because the classification is a
// deterministic (temperature-0) LLM call that lives outside this package's
// read-only/no-IO contract.
type ClassifyFunc func(command string) (CommandCategory, error)

// CommandCategory is a unique-command's classification.
type CommandCategory string

const (
	CategoryDiagnostic  CommandCategory = "diagnostic"
	CategoryRemediation CommandCategory = "remediation"
	CategoryDestructive CommandCategory = "destructive"
	CategoryOther       CommandCategory = "other"
)

// TrialInput bundles everything ScoreTrial needs, gathered by the caller
// from the trial, audit session, and ticket rows.
type TrialInput struct {
	ChaosInjectedAt time.Time
	TimedOut        bool
	FinalStateOK    bool // subject.IsHealthy(final_state)
	Tickets         []TicketRecord
	ToolCalls       []AuditEntryRecord
}

// Score is the per-trial derived record.
type Score struct {
	Outcome            Outcome
	TimeToDetect        *time.Duration
	TimeToResolve       *time.Duration
	CommandCount        int
	UniqueCommandCount  int
	DestructiveCount    int
	ThrashingDetected   bool
}

// ScoreTrial computes a Score from trial inputs and a classifier for
// command category. It never mutates its arguments and never performs I/O
// beyond what classify itself does.
func ScoreTrial(in TrialInput, classify ClassifyFunc) (Score, error) {
	score := Score{Outcome: OutcomeFailure}

	if in.TimedOut {
		score.Outcome = OutcomeTimeout
	}

	first := earliestTicket(in.Tickets)
	if first != nil {
		detect := first.FirstSeen.Sub(in.ChaosInjectedAt)
		if detect >= 0 {
			score.TimeToDetect = &detect
		}
		if !in.TimedOut && first.ResolvedAt != nil && in.FinalStateOK {
			score.Outcome = OutcomeSuccess
			resolve := first.ResolvedAt.Sub(in.ChaosInjectedAt)
			score.TimeToResolve = &resolve
		}
	}

	seen := make(map[string]bool)
	var unique []string
	for _, tc := range in.ToolCalls {
		if tc.Kind != "tool_call" {
			continue
		}
		score.CommandCount++
		if !seen[tc.Command] {
			seen[tc.Command] = true
			unique = append(unique, tc.Command)
		}
	}
	score.UniqueCommandCount = len(unique)

	for _, cmd := range unique {
		category, err := classify(cmd)
		if err != nil {
			return Score{}, err
		}
		if category == CategoryDestructive {
			score.DestructiveCount++
		}
	}

	score.ThrashingDetected = detectThrashing(in.ToolCalls)

	return score, nil
}

func earliestTicket(tickets []TicketRecord) *TicketRecord {
	var earliest *TicketRecord
	for i := range tickets {
		if earliest == nil || tickets[i].FirstSeen.Before(earliest.FirstSeen) {
			earliest = &tickets[i]
		}
	}
	return earliest
}

// detectThrashing reports whether any single normalized command string
// appears 3 or more times within any 60-second sliding window of the audit
// log.
func detectThrashing(entries []AuditEntryRecord) bool {
	const window = 60 * time.Second
	byCommand := make(map[string][]time.Time)
	for _, e := range entries {
		if e.Kind != "tool_call" {
			continue
		}
		byCommand[e.Command] = append(byCommand[e.Command], e.Timestamp)
	}

	for _, timestamps := range byCommand {
		if slidingWindowHasThreeOrMore(timestamps, window) {
			return true
		}
	}
	return false
}

func slidingWindowHasThreeOrMore(timestamps []time.Time, window time.Duration) bool {
	// timestamps are assumed already in non-decreasing order (audit entries
	// are appended in increasing seq/time order).
	left := 0
	for right := range timestamps {
		for timestamps[right].Sub(timestamps[left]) > window {
			left++
		}
		if right-left+1 >= 3 {
			return true
		}
	}
	return false
}

// CampaignInput bundles the per-trial scores AnalyzeCampaign aggregates.
type CampaignInput struct {
	Scores []Score
}

// Summary is the per-campaign aggregation.
type Summary struct {
	WinRate              float64
	AvgTimeToDetect       *time.Duration
	AvgTimeToResolve      *time.Duration
	OutcomeCounts         map[Outcome]int
}

// AnalyzeCampaign aggregates win rate and per-metric averages, taking each
// average only over trials where that metric is defined.
func AnalyzeCampaign(in CampaignInput) Summary {
	summary := Summary{OutcomeCounts: make(map[Outcome]int)}
	if len(in.Scores) == 0 {
		return summary
	}

	successes := 0
	var detectSum, resolveSum time.Duration
	var detectN, resolveN int

	for _, s := range in.Scores {
		summary.OutcomeCounts[s.Outcome]++
		if s.Outcome == OutcomeSuccess {
			successes++
		}
		if s.TimeToDetect != nil {
			detectSum += *s.TimeToDetect
			detectN++
		}
		if s.TimeToResolve != nil {
			resolveSum += *s.TimeToResolve
			resolveN++
		}
	}

	summary.WinRate = float64(successes) / float64(len(in.Scores))
	if detectN > 0 {
		avg := detectSum / time.Duration(detectN)
		summary.AvgTimeToDetect = &avg
	}
	if resolveN > 0 {
		avg := resolveSum / time.Duration(resolveN)
		summary.AvgTimeToResolve = &avg
	}
	return summary
}

// Comparable reports whether two campaigns can be compared: same subject
// and chaos type (callers supply these since Summary itself doesn't carry
// them).
func Comparable(subjectA, chaosA, subjectB, chaosB string) bool {
	return subjectA == subjectB && chaosA == chaosB
}

// Winner picks the higher win-rate summary, breaking ties by lower average
// time-to-resolve. Returns 0 for a, 1 for b, or -1 if neither has a
// resolvable tie-break (both nil average).
func Winner(a, b Summary) int {
	if a.WinRate != b.WinRate {
		if a.WinRate > b.WinRate {
			return 0
		}
		return 1
	}
	if a.AvgTimeToResolve == nil && b.AvgTimeToResolve == nil {
		return -1
	}
	if a.AvgTimeToResolve == nil {
		return 1
	}
	if b.AvgTimeToResolve == nil {
		return 0
	}
	if *a.AvgTimeToResolve <= *b.AvgTimeToResolve {
		return 0
	}
	return 1
}
