package chaos

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/containermgr"
)

// NetworkPartition installs iptables DROP rules both directions between a
// container and each named peer, by address. Cleanup removes the same
// rules; both use -C (check) before -D (delete) semantics implicitly via
// ignoring "rule not found" exit statuses during cleanup, since cleanup
// MUST be idempotent.
type NetworkPartition struct {
	mgr *containermgr.Manager
}

func (p *NetworkPartition) Type() string { return "network_partition" }

func (p *NetworkPartition) Inject(ctx context.Context, params map[string]any) (map[string]any, error) {
	container, err := paramString(params, "container")
	if err != nil {
		return nil, fmt.Errorf("chaos: network_partition: %w", err)
	}
	peersAny, ok := params["peers"]
	if !ok {
		return nil, fmt.Errorf("chaos: network_partition: missing required param %q", "peers")
	}
	peers, err := toStringSlice(peersAny)
	if err != nil {
		return nil, fmt.Errorf("chaos: network_partition: %w", err)
	}

	for _, peerAddr := range peers {
		for _, dir := range []string{"OUTPUT", "INPUT"} {
			addrFlag := "-d"
			if dir == "INPUT" {
				addrFlag = "-s"
			}
			cmd := []string{"iptables", "-A", dir, addrFlag, peerAddr, "-j", "DROP"}
			res, err := p.mgr.Exec(ctx, container, cmd)
			if err != nil {
				return nil, fmt.Errorf("chaos: network_partition: add %s rule against %s in %s: %w", dir, peerAddr, container, err)
			}
			if res.ExitCode != 0 {
				return nil, fmt.Errorf("chaos: network_partition: iptables exited %d: %s", res.ExitCode, res.Stderr)
			}
		}
	}

	return map[string]any{"container": container, "peers": peers}, nil
}

func (p *NetworkPartition) Cleanup(ctx context.Context, metadata map[string]any) error {
	container, _ := metadata["container"].(string)
	if container == "" {
		return fmt.Errorf("chaos: network_partition cleanup: incomplete metadata %v", metadata)
	}
	peers, _ := toStringSlice(metadata["peers"])

	var firstErr error
	for _, peerAddr := range peers {
		for _, dir := range []string{"OUTPUT", "INPUT"} {
			addrFlag := "-d"
			if dir == "INPUT" {
				addrFlag = "-s"
			}
			cmd := []string{"iptables", "-D", dir, addrFlag, peerAddr, "-j", "DROP"}
			if _, err := p.mgr.Exec(ctx, container, cmd); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func toStringSlice(v any) ([]string, error) {
	switch vs := v.(type) {
	case []string:
		return vs, nil
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("peers must all be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("peers must be a list of strings, got %T", v)
	}
}
