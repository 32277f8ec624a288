// Package containermgr wraps the Docker Engine API client behind the
// narrow verb set spec.md §6 names for the container manager interface:
// list, start/stop, exec-in-container, inspect. The pkg/chaos injectors go
// through this package rather than touching the Docker client directly, so
// there is exactly one place that knows the Unix socket convention. The
// agent runtime's shell tool does not use it: it runs commands as local
// subprocesses.
package containermgr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Manager is a thin, narrowly-scoped wrapper over the Docker client.
type Manager struct {
	cli *client.Client
}

// New connects to the Docker daemon using the conventional environment
// (DOCKER_HOST, or the default Unix socket at /var/run/docker.sock).
func New() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("containermgr: connect to docker daemon: %w", err)
	}
	return &Manager{cli: cli}, nil
}

// Close releases the underlying client's resources.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Info is the subset of container.InspectResponse this package's callers
// actually use.
type Info struct {
	ID      string
	Name    string
	Running bool
	IPAddr  string
}

// List returns containers whose name contains the given (optional) filter
// substring. An empty filter lists every container the daemon knows about.
func (m *Manager) List(ctx context.Context, nameFilter string) ([]Info, error) {
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("containermgr: list containers: %w", err)
	}
	var out []Info
	for _, c := range containers {
		name := strings.TrimPrefix(firstOrEmpty(c.Names), "/")
		if nameFilter != "" && !strings.Contains(name, nameFilter) {
			continue
		}
		out = append(out, Info{ID: c.ID, Name: name, Running: c.State == "running"})
	}
	return out, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// Inspect returns IP address and running state for one container, resolved
// by name or id.
func (m *Manager) Inspect(ctx context.Context, nameOrID string) (Info, error) {
	resp, err := m.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return Info{}, fmt.Errorf("containermgr: inspect %s: %w", nameOrID, err)
	}
	ip := ""
	if resp.NetworkSettings != nil {
		ip = resp.NetworkSettings.IPAddress
		if ip == "" {
			for _, net := range resp.NetworkSettings.Networks {
				if net.IPAddress != "" {
					ip = net.IPAddress
					break
				}
			}
		}
	}
	running := resp.State != nil && resp.State.Running
	return Info{ID: resp.ID, Name: strings.TrimPrefix(resp.Name, "/"), Running: running, IPAddr: ip}, nil
}

// Stop stops a container, giving it the daemon's default grace period.
func (m *Manager) Stop(ctx context.Context, nameOrID string) error {
	if err := m.cli.ContainerStop(ctx, nameOrID, container.StopOptions{}); err != nil {
		return fmt.Errorf("containermgr: stop %s: %w", nameOrID, err)
	}
	return nil
}

// Start starts a previously-stopped container.
func (m *Manager) Start(ctx context.Context, nameOrID string) error {
	if err := m.cli.ContainerStart(ctx, nameOrID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containermgr: start %s: %w", nameOrID, err)
	}
	return nil
}

// Kill sends the named signal to a container's main process (default
// SIGKILL). The chaos node_kill injector uses Stop, not Kill.
func (m *Manager) Kill(ctx context.Context, nameOrID, signal string) error {
	if signal == "" {
		signal = "SIGKILL"
	}
	if err := m.cli.ContainerKill(ctx, nameOrID, signal); err != nil {
		return fmt.Errorf("containermgr: kill %s: %w", nameOrID, err)
	}
	return nil
}

// ExecResult is the captured outcome of an in-container command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs cmd inside the named container and waits for it to finish,
// used by the chaos injectors (tc, iptables, fallocate) to mutate
// container-internal network/filesystem state without needing those tools
// on the operator's own host.
func (m *Manager) Exec(ctx context.Context, nameOrID string, cmd []string) (ExecResult, error) {
	created, err := m.cli.ContainerExecCreate(ctx, nameOrID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("containermgr: exec create in %s: %w", nameOrID, err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("containermgr: exec attach in %s: %w", nameOrID, err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	if err := demuxExecOutput(attach.Reader, &stdout, &stderr); err != nil {
		return ExecResult{}, fmt.Errorf("containermgr: read exec output from %s: %w", nameOrID, err)
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("containermgr: exec inspect in %s: %w", nameOrID, err)
	}

	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}

// demuxExecOutput reads the Docker multiplexed exec stream into separate
// stdout/stderr buffers. The Docker API prefixes each frame with an 8-byte
// header whose first byte is the stream id (1=stdout, 2=stderr).
func demuxExecOutput(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		switch header[0] {
		case 2:
			_, _ = stderr.Write(payload)
		default:
			_, _ = stdout.Write(payload)
		}
	}
}
