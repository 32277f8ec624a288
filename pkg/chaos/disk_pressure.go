package chaos

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/containermgr"
)

// fillFilePath is the path inside the target container used to hold the
// chaos fill file. A fixed, well-known path keeps cleanup a one-liner.
const fillFilePath = "/tmp/.chaos_fill"

// DiskPressure allocates a fill file sized to the requested fraction of
// free space inside the container's filesystem, using fallocate for a
// fast, sparse-unaware allocation.
type DiskPressure struct {
	mgr *containermgr.Manager
}

func (d *DiskPressure) Type() string { return "disk_pressure" }

func (d *DiskPressure) Inject(ctx context.Context, params map[string]any) (map[string]any, error) {
	container, err := paramString(params, "container")
	if err != nil {
		return nil, fmt.Errorf("chaos: disk_pressure: %w", err)
	}
	fillPercent, err := paramInt(params, "fill_percent")
	if err != nil {
		return nil, fmt.Errorf("chaos: disk_pressure: %w", err)
	}
	if fillPercent < 1 || fillPercent > 99 {
		return nil, fmt.Errorf("chaos: disk_pressure: fill_percent must be in [1,99], got %d", fillPercent)
	}

	// Compute the fill size as a percentage of currently-free space, then
	// allocate it in one fallocate call.
	sizeCmd := []string{"sh", "-c", fmt.Sprintf(
		"df --output=avail -B1 / | tail -1 | awk '{print int($1*%d/100)}'", fillPercent)}
	sizeRes, err := d.mgr.Exec(ctx, container, sizeCmd)
	if err != nil {
		return nil, fmt.Errorf("chaos: disk_pressure: compute fill size in %s: %w", container, err)
	}
	if sizeRes.ExitCode != 0 {
		return nil, fmt.Errorf("chaos: disk_pressure: df exited %d: %s", sizeRes.ExitCode, sizeRes.Stderr)
	}

	allocCmd := []string{"fallocate", "-l", trimNewline(sizeRes.Stdout), fillFilePath}
	allocRes, err := d.mgr.Exec(ctx, container, allocCmd)
	if err != nil {
		return nil, fmt.Errorf("chaos: disk_pressure: fallocate in %s: %w", container, err)
	}
	if allocRes.ExitCode != 0 {
		return nil, fmt.Errorf("chaos: disk_pressure: fallocate exited %d: %s", allocRes.ExitCode, allocRes.Stderr)
	}

	return map[string]any{"container": container, "fill_path": fillFilePath}, nil
}

func (d *DiskPressure) Cleanup(ctx context.Context, metadata map[string]any) error {
	container, _ := metadata["container"].(string)
	fillPath, _ := metadata["fill_path"].(string)
	if container == "" || fillPath == "" {
		return fmt.Errorf("chaos: disk_pressure cleanup: incomplete metadata %v", metadata)
	}
	_, err := d.mgr.Exec(ctx, container, []string{"rm", "-f", fillPath})
	return err
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
