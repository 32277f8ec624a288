// Package chaos implements the four fault types spec.md §4.7 names:
// node_kill, latency, disk_pressure, network_partition. Each Injector
// works against the containermgr interface rather than the Docker client
// directly, and each inject() call returns a metadata map sufficient for a
// stateless cleanup() — mirroring the inject/cleanup pairing in
// jhkimqd-chaos-utils's pkg/injection/container and pkg/injection/l3l4
// wrappers, adapted here to the subject/Trial domain instead of a
// standalone CLI.
package chaos

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/containermgr"
)

// Injector is one chaos type: inject returns metadata cleanup needs, and
// cleanup must be idempotent and best-effort (errors logged, not raised,
// per spec.md §7's "Cleanup failure" policy — enforced by the harness
// caller, not here).
type Injector interface {
	Type() string
	Inject(ctx context.Context, params map[string]any) (metadata map[string]any, err error)
	Cleanup(ctx context.Context, metadata map[string]any) error
}

// Registry maps chaos type names to their Injector.
type Registry struct {
	injectors map[string]Injector
}

// NewRegistry builds a registry with all four standard injectors wired to
// a shared containermgr.Manager.
func NewRegistry(mgr *containermgr.Manager) *Registry {
	return NewRegistryFromInjectors([]Injector{
		&NodeKill{mgr: mgr},
		&Latency{mgr: mgr},
		&DiskPressure{mgr: mgr},
		&NetworkPartition{mgr: mgr},
	})
}

// NewRegistryFromInjectors builds a registry from an explicit injector set,
// keyed by each injector's Type(). Exported so callers (and tests) can wire
// fakes without a real containermgr.Manager.
func NewRegistryFromInjectors(injectors []Injector) *Registry {
	r := &Registry{injectors: make(map[string]Injector)}
	for _, inj := range injectors {
		r.injectors[inj.Type()] = inj
	}
	return r
}

// Get returns the injector for a chaos type name.
func (r *Registry) Get(chaosType string) (Injector, error) {
	inj, ok := r.injectors[chaosType]
	if !ok {
		return nil, fmt.Errorf("chaos: unknown chaos type %q", chaosType)
	}
	return inj, nil
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required param %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("param %q must be a non-empty string", key)
	}
	return s, nil
}

func paramInt(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing required param %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("param %q must be numeric, got %T", key, v)
	}
}
