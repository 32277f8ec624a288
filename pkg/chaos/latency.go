package chaos

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/containermgr"
)

// Latency injects network delay on a container's primary interface via
// `tc qdisc add ... netem delay`, executed inside the target container
// (which must run with NET_ADMIN).
type Latency struct {
	mgr *containermgr.Manager
}

func (l *Latency) Type() string { return "latency" }

const netemInterface = "eth0"

func (l *Latency) Inject(ctx context.Context, params map[string]any) (map[string]any, error) {
	container, err := paramString(params, "container")
	if err != nil {
		return nil, fmt.Errorf("chaos: latency: %w", err)
	}
	minMS, err := paramInt(params, "min_ms")
	if err != nil {
		return nil, fmt.Errorf("chaos: latency: %w", err)
	}
	maxMS, err := paramInt(params, "max_ms")
	if err != nil {
		return nil, fmt.Errorf("chaos: latency: %w", err)
	}

	jitter := maxMS - minMS
	cmd := []string{"tc", "qdisc", "add", "dev", netemInterface, "root", "netem",
		"delay", fmt.Sprintf("%dms", minMS), fmt.Sprintf("%dms", jitter)}

	res, err := l.mgr.Exec(ctx, container, cmd)
	if err != nil {
		return nil, fmt.Errorf("chaos: latency: add netem qdisc in %s: %w", container, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("chaos: latency: tc exited %d: %s", res.ExitCode, res.Stderr)
	}

	return map[string]any{"container": container, "interface": netemInterface}, nil
}

func (l *Latency) Cleanup(ctx context.Context, metadata map[string]any) error {
	container, _ := metadata["container"].(string)
	iface, _ := metadata["interface"].(string)
	if container == "" || iface == "" {
		return fmt.Errorf("chaos: latency cleanup: incomplete metadata %v", metadata)
	}
	_, err := l.mgr.Exec(ctx, container, []string{"tc", "qdisc", "del", "dev", iface, "root"})
	return err
}
