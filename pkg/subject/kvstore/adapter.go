// Package kvstore adapts a replicated key-value store (a TiKV-like system
// of stores and regions) to the subject interface. Store membership and
// region-leader facts come from an HTTP control plane (the "placement
// driver" analogue); latency and throughput come from scraping a
// Prometheus-compatible /metrics endpoint directly, rather than going
// through the control plane, mirroring how operators actually read such
// fleets.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sreops/operator/pkg/subject"
	"github.com/sreops/operator/pkg/subject/promscrape"
)

// Endpoint keys expected in the factory's endpoints map.
const (
	EndpointControlPlane = "control_plane_url"
	EndpointMetrics       = "metrics_url"
)

// Adapter implements subject.Subject for a replicated key-value store.
type Adapter struct {
	name         string
	controlPlane string
	httpClient   *http.Client
	promClient   *promscrape.Client
	breaker      *gobreaker.CircuitBreaker
}

// New constructs the adapter and its companion Checker.
func New(endpoints map[string]string) (subject.Subject, subject.Checker, error) {
	controlPlane := endpoints[EndpointControlPlane]
	metricsURL := endpoints[EndpointMetrics]
	if controlPlane == "" || metricsURL == "" {
		return nil, nil, fmt.Errorf("kvstore: %s and %s are required", EndpointControlPlane, EndpointMetrics)
	}

	promClient, err := promscrape.New(metricsURL, 10*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("kvstore: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kvstore-observe",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	a := &Adapter{
		name:         "kvstore",
		controlPlane: controlPlane,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		promClient:   promClient,
		breaker:      breaker,
	}
	return a, &Checker{adapter: a}, nil
}

// storeStatus mirrors the placement driver's /stores response shape.
type storeStatus struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	State   string `json:"state"` // "up" | "down" | "offline"
}

// clusterStatus mirrors the placement driver's /cluster response shape.
type clusterStatus struct {
	LeaderElected   bool  `json:"leader_elected"`
	RegionsDown     int64 `json:"regions_without_leader"`
	PendingRegions  int64 `json:"pending_region_count"`
}

// Observe performs a control-plane + metrics sweep, wrapped in a circuit
// breaker so repeated transient failures fail fast.
func (a *Adapter) Observe(ctx context.Context) (*subject.Observation, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.observeOnce(ctx)
	})
	if err != nil {
		return nil, &subject.ObserveError{Kind: subject.ObserveErrorTransient, Err: err}
	}
	return result.(*subject.Observation), nil
}

func (a *Adapter) observeOnce(ctx context.Context) (*subject.Observation, error) {
	stores, err := a.fetchStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch stores: %w", err)
	}

	cluster, err := a.fetchCluster(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch cluster status: %w", err)
	}

	metrics, err := a.scrapeMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape metrics: %w", err)
	}

	entities := make([]subject.Entity, 0, len(stores))
	for _, s := range stores {
		state := subject.EntityUnknown
		switch s.State {
		case "up":
			state = subject.EntityUp
		case "down", "offline":
			state = subject.EntityDown
		}
		entities = append(entities, subject.Entity{
			ID:      s.ID,
			Address: s.Address,
			State:   state,
			Metrics: metrics[s.ID],
		})
	}

	return &subject.Observation{
		Timestamp: time.Now().UTC(),
		Entities:  entities,
		Cluster: subject.ClusterFacts{
			ControlPlaneReachable: true,
			Counters: map[string]int64{
				"regions_without_leader": cluster.RegionsDown,
				"pending_region_count":   cluster.PendingRegions,
			},
			Flags: map[string]bool{"leader_elected": cluster.LeaderElected},
		},
	}, nil
}

func (a *Adapter) fetchStores(ctx context.Context) ([]storeStatus, error) {
	var stores []storeStatus
	if err := a.getJSON(ctx, "/stores", &stores); err != nil {
		return nil, err
	}
	return stores, nil
}

func (a *Adapter) fetchCluster(ctx context.Context) (clusterStatus, error) {
	var cs clusterStatus
	if err := a.getJSON(ctx, "/cluster", &cs); err != nil {
		return clusterStatus{}, err
	}
	return cs, nil
}

func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.controlPlane+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// scrapeMetrics queries the Prometheus-compatible metrics endpoint for
// per-store p99 latency and QPS gauges, keyed by the "store" label.
func (a *Adapter) scrapeMetrics(ctx context.Context) (map[string]subject.EntityMetrics, error) {
	latency, err := a.promClient.QueryVector(ctx, "kvstore_p99_latency_ms", "store")
	if err != nil {
		return nil, fmt.Errorf("query kvstore_p99_latency_ms: %w", err)
	}
	qps, err := a.promClient.QueryVector(ctx, "kvstore_qps", "store")
	if err != nil {
		return nil, fmt.Errorf("query kvstore_qps: %w", err)
	}

	out := make(map[string]subject.EntityMetrics, len(latency))
	for store, v := range latency {
		m := out[store]
		m.P99LatencyMS = v
		out[store] = m
	}
	for store, v := range qps {
		m := out[store]
		m.ThroughputQPS = v
		out[store] = m
	}
	return out, nil
}

// ListActionDefinitions returns the static action catalog for this subject.
func (a *Adapter) ListActionDefinitions() []subject.ActionDefinition {
	return []subject.ActionDefinition{
		{
			Name:        "restart_store",
			Description: "Restart a single store process",
			Parameters: map[string]subject.ParamSpec{
				"store_id": {Type: "string", Description: "store identifier", Required: true},
			},
			Risk: subject.RiskMedium,
		},
		{
			Name:        "trigger_leader_election",
			Description: "Force a leader election for regions currently without one",
			Parameters:  map[string]subject.ParamSpec{},
			Risk:        subject.RiskMedium,
		},
		{
			Name:        "evict_store",
			Description: "Remove a store from the cluster and rebalance its regions",
			Parameters: map[string]subject.ParamSpec{
				"store_id": {Type: "string", Description: "store identifier", Required: true},
			},
			Risk:             subject.RiskHigh,
			RequiresApproval: true,
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
	case "restart_store", "evict_store":
		storeID, ok := params["store_id"].(string)
		if !ok || storeID == "" {
			return &subject.ActionError{Kind: subject.ActionErrorInvalidParams, Err: fmt.Errorf("store_id is required")}
		}
		return a.postAction(ctx, fmt.Sprintf("/stores/%s/%s", storeID, actionVerb(name)))
	case "trigger_leader_election":
		return a.postAction(ctx, "/regions/elect-leader")
	default:
		return &subject.ActionError{Kind: subject.ActionErrorUnknownAction, Err: fmt.Errorf("unknown action %q", name)}
	}
}

func actionVerb(name string) string {
	if name == "restart_store" {
		return "restart"
	}
	return "evict"
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
		SLOs: []string{"p99_latency<150ms", "regions_without_leader=0"},
	}
}

// Reset restarts down stores and waits until every region has a leader.
func (a *Adapter) Reset(ctx context.Context) error {
	deadline := time.Now().Add(90 * time.Second)
	for time.Now().Before(deadline) {
		stores, err := a.fetchStores(ctx)
		cluster, cerr := a.fetchCluster(ctx)
		if err == nil && cerr == nil {
			healthy := cluster.RegionsDown == 0
			for _, s := range stores {
				if s.State != "up" {
					healthy = false
					_ = a.postAction(ctx, fmt.Sprintf("/stores/%s/restart", s.ID))
				}
			}
			if healthy {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("kvstore: cluster did not become healthy before reset deadline")
}

// SnapshotState captures store states and cluster counters for scoring.
func (a *Adapter) SnapshotState(ctx context.Context) (map[string]any, error) {
	stores, err := a.fetchStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot stores: %w", err)
	}
	cluster, err := a.fetchCluster(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot cluster: %w", err)
	}
	return map[string]any{"stores": stores, "cluster": cluster}, nil
}

// IsHealthy reports whether a snapshot shows every store up and no region
// without a leader.
func (a *Adapter) IsHealthy(state map[string]any) bool {
	cluster, ok := state["cluster"].(clusterStatus)
	if !ok || cluster.RegionsDown != 0 {
		return false
	}
	stores, ok := state["stores"].([]storeStatus)
	if !ok {
		return false
	}
	for _, s := range stores {
		if s.State != "up" {
			return false
		}
	}
	return true
}

// SupportsChaos advertises which chaos types this subject accepts.
func (a *Adapter) SupportsChaos() []string {
	return []string{"node_kill", "latency", "disk_pressure", "network_partition"}
}

// SupportsParallelTrials is true: independent kvstore clusters don't share
// state outside their own containers, unlike the ratelimiter fleet.
func (a *Adapter) SupportsParallelTrials() bool { return true }
