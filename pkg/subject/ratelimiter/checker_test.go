package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/subject"
)

func findingFor(findings []invariant.Finding, name, entityID string) *invariant.Finding {
	for i := range findings {
		if findings[i].InvariantName == name && findings[i].EntityID == entityID {
			return &findings[i]
		}
	}
	return nil
}

func TestChecker_EntityDownProducesViolation(t *testing.T) {
	c := &Checker{}
	obs := &subject.Observation{
		Entities: []subject.Entity{
			{ID: "n0", State: subject.EntityUp},
			{ID: "n1", State: subject.EntityDown},
		},
		Cluster: subject.ClusterFacts{ControlPlaneReachable: true, Counters: map[string]int64{}},
	}

	findings := c.Check(obs)

	n0 := findingFor(findings, invariant.EntityUnreachable, "n0")
	require.NotNil(t, n0)
	require.False(t, n0.Violated)

	n1 := findingFor(findings, invariant.EntityUnreachable, "n1")
	require.NotNil(t, n1)
	require.True(t, n1.Violated)
}

func TestChecker_HighLatencyThreshold(t *testing.T) {
	c := &Checker{}
	obs := &subject.Observation{
		Entities: []subject.Entity{{ID: "n0", State: subject.EntityUp, Metrics: subject.EntityMetrics{P99LatencyMS: 250}}},
		Cluster:  subject.ClusterFacts{ControlPlaneReachable: true, Counters: map[string]int64{}},
	}

	findings := c.Check(obs)
	f := findingFor(findings, invariant.HighLatency, "n0")
	require.NotNil(t, f)
	require.True(t, f.Violated)
}

func TestChecker_PolicyDrift(t *testing.T) {
	c := &Checker{}
	obs := &subject.Observation{
		Cluster: subject.ClusterFacts{
			ControlPlaneReachable: true,
			Counters:              map[string]int64{"policy_limit": 1000, "policy_counter": 1500},
		},
	}

	findings := c.Check(obs)
	f := findingFor(findings, invariant.PolicyDrift, "")
	require.NotNil(t, f)
	require.True(t, f.Violated)
}

func TestChecker_ControlPlaneDown(t *testing.T) {
	c := &Checker{}
	obs := &subject.Observation{Cluster: subject.ClusterFacts{ControlPlaneReachable: false, Counters: map[string]int64{}}}

	findings := c.Check(obs)
	f := findingFor(findings, invariant.ControlPlaneDown, "")
	require.NotNil(t, f)
	require.True(t, f.Violated)
}

func TestChecker_EmptyObservationFlagsMisconfiguration(t *testing.T) {
	c := &Checker{}
	obs := &subject.Observation{Cluster: subject.ClusterFacts{ControlPlaneReachable: true, Counters: map[string]int64{}}}

	findings := c.Check(obs)
	f := findingFor(findings, invariant.Misconfiguration, "")
	require.NotNil(t, f)
	require.True(t, f.Violated)
}
