package chaos

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/containermgr"
)

// NodeKill stops a container outright. No cleanup is required: the next
// trial's subject.Reset() restarts it (spec.md §4.7: "no cleanup
// required").
type NodeKill struct {
	mgr *containermgr.Manager
}

func (n *NodeKill) Type() string { return "node_kill" }

func (n *NodeKill) Inject(ctx context.Context, params map[string]any) (map[string]any, error) {
	container, err := paramString(params, "container")
	if err != nil {
		return nil, fmt.Errorf("chaos: node_kill: %w", err)
	}
	if err := n.mgr.Stop(ctx, container); err != nil {
		return nil, fmt.Errorf("chaos: node_kill %s: %w", container, err)
	}
	return map[string]any{"container": container}, nil
}

func (n *NodeKill) Cleanup(ctx context.Context, metadata map[string]any) error {
	return nil
}
