package ratelimiter

import (
	"fmt"

	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/subject"
)

// LatencyThresholdMS is the P99 latency threshold for the high_latency
// invariant on this subject.
const LatencyThresholdMS = 100.0

// Checker implements subject.Checker for the ratelimiter adapter.
type Checker struct {
	adapter *Adapter
}

// Configs returns the standard invariant set unchanged; this subject's
// latency threshold is applied in Check.
func (c *Checker) Configs() map[string]invariant.Config {
	return invariant.StandardConfigs()
}

// Check evaluates one Observation against the five standard invariants.
func (c *Checker) Check(obs *subject.Observation) []invariant.Finding {
	var findings []invariant.Finding

	for _, e := range obs.Entities {
		findings = append(findings, invariant.Finding{
			InvariantName: invariant.EntityUnreachable,
			EntityID:      e.ID,
			Violated:      e.State != subject.EntityUp,
			Message:       fmt.Sprintf("node %s is %s", e.ID, e.State),
		})

		findings = append(findings, invariant.Finding{
			InvariantName: invariant.HighLatency,
			EntityID:      e.ID,
			Violated:      e.Metrics.P99LatencyMS > LatencyThresholdMS,
			Message:       fmt.Sprintf("node %s p99=%.0fms (threshold %.0fms)", e.ID, e.Metrics.P99LatencyMS, LatencyThresholdMS),
		})
	}

	findings = append(findings, invariant.Finding{
		InvariantName: invariant.ControlPlaneDown,
		Violated:      !obs.Cluster.ControlPlaneReachable,
		Message:       "rate-limiter control plane unreachable",
	})

	limit := obs.Cluster.Counters["policy_limit"]
	count := obs.Cluster.Counters["policy_counter"]
	findings = append(findings, invariant.Finding{
		InvariantName: invariant.PolicyDrift,
		Violated:      limit > 0 && count > limit,
		Message:       fmt.Sprintf("policy counter %d exceeds declared limit %d", count, limit),
	})

	if len(obs.Entities) == 0 {
		findings = append(findings, invariant.Finding{
			InvariantName: invariant.Misconfiguration,
			Violated:      true,
			Message:       "no nodes registered with control plane",
		})
	}

	return findings
}
