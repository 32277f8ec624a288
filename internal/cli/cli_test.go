package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecute_MissingConfigDirReturnsConfigErrorExitCode(t *testing.T) {
	dir := t.TempDir()
	code := Execute([]string{"--config-dir", dir, "tickets", "list"})
	require.Equal(t, ExitConfigError, code)
}

func TestExecute_HelpSucceeds(t *testing.T) {
	code := Execute([]string{"--help"})
	require.Equal(t, ExitSuccess, code)
}

func TestExecute_TicketsListAgainstValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := "subjects:\n  ratelimiter:\n    factory: ratelimiter\n    endpoints:\n      control_plane_url: http://127.0.0.1:0\nmonitor:\n  interval_seconds: 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "operator.yaml"), []byte(cfg), 0o644))

	code := Execute([]string{"--config-dir", dir, "tickets", "list"})
	require.Equal(t, ExitSuccess, code)
}

func TestExecute_UnknownTicketIDReturnsOperationalFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := "subjects:\n  ratelimiter:\n    factory: ratelimiter\n    endpoints: {}\nmonitor:\n  interval_seconds: 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "operator.yaml"), []byte(cfg), 0o644))

	code := Execute([]string{"--config-dir", dir, "tickets", "show", "999"})
	require.Equal(t, ExitOperationalFailure, code)
}
