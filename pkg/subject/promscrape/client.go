// Package promscrape wraps the Prometheus HTTP API client for the subject
// adapters that read latency/throughput gauges from a Prometheus-compatible
// metrics endpoint, instead of hand-rolling a text-exposition-format parser.
package promscrape

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Client is a thin wrapper around v1.API scoped to instant vector queries
// keyed by a single label (e.g. "store" or "node").
type Client struct {
	api     v1.API
	timeout time.Duration
}

// New creates a Client against the Prometheus-compatible server at url.
func New(url string, timeout time.Duration) (*Client, error) {
	apiClient, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("promscrape: create client for %s: %w", url, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: v1.NewAPI(apiClient), timeout: timeout}, nil
}

// QueryVector runs an instant query at the current time and returns the
// result keyed by labelKey (e.g. the per-entity "store"/"node" label).
// Samples whose label is absent or empty are dropped.
func (c *Client) QueryVector(ctx context.Context, query, labelKey string) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, _, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("promscrape: query %q: %w", query, err)
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("promscrape: query %q returned %T, want an instant vector", query, value)
	}

	out := make(map[string]float64, len(vector))
	for _, sample := range vector {
		label := string(sample.Metric[model.LabelName(labelKey)])
		if label == "" {
			continue
		}
		out[label] = float64(sample.Value)
	}
	return out, nil
}
