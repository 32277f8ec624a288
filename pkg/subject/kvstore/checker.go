package kvstore

import (
	"fmt"

	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/subject"
)

// LatencyThresholdMS is the P99 latency threshold for the high_latency
// invariant on this subject. Higher than the ratelimiter's threshold
// because cross-region consensus writes cost more.
const LatencyThresholdMS = 150.0

// Checker implements subject.Checker for the kvstore adapter.
type Checker struct {
	adapter *Adapter
}

// Configs returns the standard invariant set.
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
			Message:       fmt.Sprintf("store %s is %s", e.ID, e.State),
		})

		findings = append(findings, invariant.Finding{
			InvariantName: invariant.HighLatency,
			EntityID:      e.ID,
			Violated:      e.Metrics.P99LatencyMS > LatencyThresholdMS,
			Message:       fmt.Sprintf("store %s p99=%.0fms (threshold %.0fms)", e.ID, e.Metrics.P99LatencyMS, LatencyThresholdMS),
		})
	}

	findings = append(findings, invariant.Finding{
		InvariantName: invariant.ControlPlaneDown,
		Violated:      !obs.Cluster.ControlPlaneReachable,
		Message:       "kvstore placement driver unreachable",
	})

	regionsDown := obs.Cluster.Counters["regions_without_leader"]
	findings = append(findings, invariant.Finding{
		InvariantName: invariant.PolicyDrift,
		Violated:      regionsDown > 0,
		Message:       fmt.Sprintf("%d region(s) without an elected leader", regionsDown),
	})

	if len(obs.Entities) == 0 {
		findings = append(findings, invariant.Finding{
			InvariantName: invariant.Misconfiguration,
			Violated:      true,
			Message:       "no stores registered with placement driver",
		})
	}

	return findings
}
