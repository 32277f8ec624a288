package agentrt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/storage"
)

type scriptedProvider struct {
	responses []Response
	errs      []error
	calls     int
}

func (s *scriptedProvider) Respond(ctx context.Context, system string, tools []ToolSchema, messages []Message) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return Response{}, errors.New("scriptedProvider: ran out of responses")
	}
	return s.responses[i], nil
}

func newTestAuditStore(t *testing.T) (*audit.Store, string) {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := audit.NewStore(db)
	sessID, err := audit.NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = store.StartSession(context.Background(), sessID, time.Now())
	require.NoError(t, err)
	return store, sessID
}

func TestRun_ExitsWhenNoToolCallsReturned(t *testing.T) {
	store, sessID := newTestAuditStore(t)
	provider := &scriptedProvider{responses: []Response{
		{Content: []ContentBlock{{Type: "text", Text: "looks healthy, nothing to do"}}},
	}}

	err := Run(context.Background(), Config{Provider: provider, Audit: store, SessionID: sessID}, "investigate ticket 1")
	require.NoError(t, err)

	_, entries, err := store.GetSession(context.Background(), sessID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, audit.KindMessage, entries[0].Kind)
}

func TestRun_ExecutesToolCallAndFeedsResultBack(t *testing.T) {
	store, sessID := newTestAuditStore(t)
	provider := &scriptedProvider{responses: []Response{
		{Content: []ContentBlock{{Type: "tool_use", ToolUseID: "call-1", ToolName: "shell",
			ToolInput: map[string]any{"command": "echo hi", "reasoning": "sanity check"}}}},
		{Content: []ContentBlock{{Type: "text", Text: "done"}}},
	}}

	err := Run(context.Background(), Config{Provider: provider, Audit: store, SessionID: sessID, ShellTimeout: 5 * time.Second}, "investigate")
	require.NoError(t, err)

	_, entries, err := store.GetSession(context.Background(), sessID)
	require.NoError(t, err)

	var kinds []audit.Kind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []audit.Kind{
		audit.KindMessage, audit.KindToolCall, audit.KindToolResult, audit.KindMessage,
	}, kinds)
}

func TestRun_RespectsMaxTurns(t *testing.T) {
	store, sessID := newTestAuditStore(t)
	toolResp := Response{Content: []ContentBlock{{Type: "tool_use", ToolUseID: "x", ToolName: "shell",
		ToolInput: map[string]any{"command": "true", "reasoning": "loop"}}}}
	provider := &scriptedProvider{responses: []Response{toolResp, toolResp, toolResp}}

	err := Run(context.Background(), Config{Provider: provider, Audit: store, SessionID: sessID, MaxTurns: 2, ShellTimeout: 2 * time.Second}, "investigate")
	require.NoError(t, err)
	require.Equal(t, 2, provider.calls)
}

func TestRun_ProviderErrorExhaustsRetryBudget(t *testing.T) {
	store, sessID := newTestAuditStore(t)
	failure := errors.New("connection reset")
	provider := &scriptedProvider{errs: []error{failure, failure, failure}}

	err := Run(context.Background(), Config{Provider: provider, Audit: store, SessionID: sessID}, "investigate")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProviderUnreachable)
	require.Equal(t, 3, provider.calls)
}
