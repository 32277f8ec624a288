// Package ratelimiter adapts a fleet of rate-limiter nodes to the subject
// interface. Control-plane membership/health comes from an HTTP API,
// latency from a Prometheus-compatible metrics endpoint, and the policy
// counters that back the policy_drift invariant come directly from the
// Redis instance the fleet uses as its shared counter store — the "direct
// connection to a state backend" egress named in spec.md §6.
package ratelimiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sreops/operator/pkg/subject"
	"github.com/sreops/operator/pkg/subject/promscrape"
)

// Endpoints keys expected in the factory's endpoints map.
const (
	EndpointControlPlane = "control_plane_url"
	EndpointMetrics      = "metrics_url"
	EndpointRedisAddr    = "redis_addr"
)

// Adapter implements subject.Subject for a rate-limiter fleet.
type Adapter struct {
	name         string
	controlPlane string
	httpClient   *http.Client
	promClient   *promscrape.Client
	redisClient  *redis.Client
	breaker      *gobreaker.CircuitBreaker
	policyLimit  int64
}

// New constructs the adapter and its companion Checker from subject
// endpoint configuration. Registered under the name "ratelimiter" in the
// top-level subject.Registry.
func New(endpoints map[string]string) (subject.Subject, subject.Checker, error) {
	controlPlane := endpoints[EndpointControlPlane]
	metricsURL := endpoints[EndpointMetrics]
	redisAddr := endpoints[EndpointRedisAddr]
	if controlPlane == "" || metricsURL == "" || redisAddr == "" {
		return nil, nil, fmt.Errorf("ratelimiter: %s, %s and %s are required", EndpointControlPlane, EndpointMetrics, EndpointRedisAddr)
	}

	promClient, err := promscrape.New(metricsURL, 10*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("ratelimiter: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimiter-observe",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	a := &Adapter{
		name:         "ratelimiter",
		controlPlane: controlPlane,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		promClient:   promClient,
		redisClient:  rdb,
		breaker:      breaker,
		policyLimit:  1000,
	}
	return a, &Checker{adapter: a}, nil
}

// nodeStatus mirrors the rate-limiter control plane's /nodes response
// shape. Latency and throughput are not read from here: they come from the
// Prometheus metrics endpoint (scrapeMetrics), matching how the kvstore
// adapter sources the same facts.
type nodeStatus struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	State   string `json:"state"` // "up" | "down"
}

// Observe performs a control-plane + metrics + Redis sweep, wrapped in a
// circuit breaker so repeated transient failures fail fast instead of
// hanging every monitor tick (spec.md §7's bounded-retry policy for
// transient transport, implemented as an explicit state machine rather
// than an ad hoc counter).
func (a *Adapter) Observe(ctx context.Context) (*subject.Observation, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.observeOnce(ctx)
	})
	if err != nil {
		kind := subject.ObserveErrorTransient
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			kind = subject.ObserveErrorTransient
		}
		return nil, &subject.ObserveError{Kind: kind, Err: err}
	}
	return result.(*subject.Observation), nil
}

func (a *Adapter) observeOnce(ctx context.Context) (*subject.Observation, error) {
	nodes, err := a.fetchNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}

	metrics, err := a.scrapeMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape metrics: %w", err)
	}

	entities := make([]subject.Entity, 0, len(nodes))
	for _, n := range nodes {
		state := subject.EntityUnknown
		switch n.State {
		case "up":
			state = subject.EntityUp
		case "down":
			state = subject.EntityDown
		}
		entities = append(entities, subject.Entity{
			ID:      n.ID,
			Address: n.Address,
			State:   state,
			Metrics: metrics[n.ID],
		})
	}

	counter, err := a.redisClient.Get(ctx, "ratelimiter:global:count").Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read policy counter from redis: %w", err)
	}

	return &subject.Observation{
		Timestamp: time.Now().UTC(),
		Entities:  entities,
		Cluster: subject.ClusterFacts{
			ControlPlaneReachable: true,
			Counters:              map[string]int64{"policy_counter": counter, "policy_limit": a.policyLimit},
			Flags:                  map[string]bool{},
		},
	}, nil
}

// scrapeMetrics queries the Prometheus-compatible metrics endpoint for
// per-node p99 latency and QPS gauges, keyed by the "node" label.
func (a *Adapter) scrapeMetrics(ctx context.Context) (map[string]subject.EntityMetrics, error) {
	latency, err := a.promClient.QueryVector(ctx, "ratelimiter_p99_latency_ms", "node")
	if err != nil {
		return nil, fmt.Errorf("query ratelimiter_p99_latency_ms: %w", err)
	}
	qps, err := a.promClient.QueryVector(ctx, "ratelimiter_qps", "node")
	if err != nil {
		return nil, fmt.Errorf("query ratelimiter_qps: %w", err)
	}

	out := make(map[string]subject.EntityMetrics, len(latency))
	for node, v := range latency {
		m := out[node]
		m.P99LatencyMS = v
		out[node] = m
	}
	for node, v := range qps {
		m := out[node]
		m.ThroughputQPS = v
		out[node] = m
	}
	return out, nil
}

func (a *Adapter) fetchNodes(ctx context.Context) ([]nodeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.controlPlane+"/nodes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}
	var nodes []nodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decode nodes response: %w", err)
	}
	return nodes, nil
}

// ListActionDefinitions returns the static action catalog for this subject.
func (a *Adapter) ListActionDefinitions() []subject.ActionDefinition {
	return []subject.ActionDefinition{
		{
			Name:        "restart_node",
			Description: "Restart a single rate-limiter node",
			Parameters: map[string]subject.ParamSpec{
				"node_id": {Type: "string", Description: "node identifier", Required: true},
			},
			Risk:             subject.RiskMedium,
			RequiresApproval: false,
		},
		{
			Name:        "reset_policy_counter",
			Description: "Reset the shared Redis policy counter to zero",
			Parameters:  map[string]subject.ParamSpec{},
			Risk:        subject.RiskLow,
		},
		{
			Name:        "drain_node",
			Description: "Remove a node from the load-balancing rotation",
			Parameters: map[string]subject.ParamSpec{
				"node_id": {Type: "string", Description: "node identifier", Required: true},
			},
			Risk: subject.RiskHigh,
		},
	}
}

// ExecuteAction fires the named action against the control plane.
func (a *Adapter) ExecuteAction(ctx context.Context, name string, params map[string]any) error {
	def, ok := subject.FindActionDefinition(a.ListActionDefinitions(), name)
	if !ok {
		return &subject.ActionError{Kind: subject.ActionErrorUnknownAction, Err: fmt.Errorf("unknown action %q", name)}
	}
	if err := subject.ValidateParams(def, params); err != nil {
		return err
	}

	switch name {
	case "restart_node", "drain_node":
		nodeID, ok := params["node_id"].(string)
		if !ok || nodeID == "" {
			return &subject.ActionError{Kind: subject.ActionErrorInvalidParams, Err: fmt.Errorf("node_id is required")}
		}
		return a.postAction(ctx, fmt.Sprintf("/nodes/%s/%s", nodeID, actionVerb(name)))
	case "reset_policy_counter":
		if err := a.redisClient.Set(ctx, "ratelimiter:global:count", 0, 0).Err(); err != nil {
			return &subject.ActionError{Kind: subject.ActionErrorTransport, Err: err}
		}
		return nil
	default:
		return &subject.ActionError{Kind: subject.ActionErrorUnknownAction, Err: fmt.Errorf("unknown action %q", name)}
	}
}

func actionVerb(name string) string {
	if name == "restart_node" {
		return "restart"
	}
	return "drain"
}

func (a *Adapter) postAction(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.controlPlane+path, nil)
	if err != nil {
		return &subject.ActionError{Kind: subject.ActionErrorTransport, Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &subject.ActionError{Kind: subject.ActionErrorTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &subject.ActionError{Kind: subject.ActionErrorRemoteRejected, Err: fmt.Errorf("control plane rejected action: status %d", resp.StatusCode)}
	}
	return nil
}

// GetConfig returns the informational subject descriptor.
func (a *Adapter) GetConfig() subject.Config {
	return subject.Config{
		Name: a.name,
		SLOs: []string{"p99_latency<100ms", "availability>99.9%"},
	}
}

// Reset restarts any down nodes and zeroes the policy counter, then polls
// until every node reports up.
func (a *Adapter) Reset(ctx context.Context) error {
	if err := a.redisClient.Set(ctx, "ratelimiter:global:count", 0, 0).Err(); err != nil {
		return fmt.Errorf("reset policy counter: %w", err)
	}

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		nodes, err := a.fetchNodes(ctx)
		if err == nil {
			healthy := true
			for _, n := range nodes {
				if n.State != "up" {
					healthy = false
					_ = a.postAction(ctx, fmt.Sprintf("/nodes/%s/restart", n.ID))
				}
			}
			if healthy {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("ratelimiter: nodes did not become healthy before reset deadline")
}

// SnapshotState captures node states and the policy counter for harness scoring.
func (a *Adapter) SnapshotState(ctx context.Context) (map[string]any, error) {
	nodes, err := a.fetchNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot nodes: %w", err)
	}
	counter, err := a.redisClient.Get(ctx, "ratelimiter:global:count").Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("snapshot policy counter: %w", err)
	}
	return map[string]any{"nodes": nodes, "policy_counter": counter}, nil
}

// IsHealthy reports whether a snapshot shows every node up and the policy
// counter within bounds.
func (a *Adapter) IsHealthy(state map[string]any) bool {
	nodesAny, ok := state["nodes"]
	if !ok {
		return false
	}
	nodes, ok := nodesAny.([]nodeStatus)
	if !ok {
		return false
	}
	for _, n := range nodes {
		if n.State != "up" {
			return false
		}
	}
	if counter, ok := state["policy_counter"].(int64); ok && a.policyLimit > 0 && counter > a.policyLimit {
		return false
	}
	return true
}

// SupportsChaos advertises which chaos types this subject accepts.
func (a *Adapter) SupportsChaos() []string {
	return []string{"node_kill", "latency", "disk_pressure", "network_partition"}
}

// SupportsParallelTrials is false: the fleet shares one Redis counter, so
// concurrent trials would corrupt each other's policy-drift signal.
func (a *Adapter) SupportsParallelTrials() bool { return false }
