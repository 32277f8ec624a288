package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStore_AppendAssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessID, err := NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = s.StartSession(ctx, sessID, time.Now())
	require.NoError(t, err)

	e1, err := s.Append(ctx, sessID, RoleAssistant, KindMessage, []byte(`{"text":"hello"}`), "", nil, nil)
	require.NoError(t, err)
	e2, err := s.Append(ctx, sessID, RoleTool, KindToolCall, []byte(`{"command":"ls"}`), "shell", []byte(`{"command":"ls"}`), nil)
	require.NoError(t, err)

	require.Equal(t, int64(1), e1.Seq)
	require.Equal(t, int64(2), e2.Seq)
}

func TestStore_AppendRedactsToolParamsBeforeWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessID, err := NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = s.StartSession(ctx, sessID, time.Now())
	require.NoError(t, err)

	toolParams := []byte(`{"command": "curl -H 'Authorization: Bearer sk_live_ABC123' https://x"}`)
	_, err = s.Append(ctx, sessID, RoleTool, KindToolCall, []byte(`{}`), "shell", toolParams, nil)
	require.NoError(t, err)

	_, entries, err := s.GetSession(ctx, sessID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ToolParams)
	require.Contains(t, *entries[0].ToolParams, redactedPlaceholder)
	require.NotContains(t, *entries[0].ToolParams, "sk_live_ABC123")
}

func TestStore_EndSessionSetsOutcome(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessID, err := NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = s.StartSession(ctx, sessID, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.EndSession(ctx, sessID, "success", time.Now()))

	sess, _, err := s.GetSession(ctx, sessID)
	require.NoError(t, err)
	require.Equal(t, "success", sess.Outcome)
	require.NotNil(t, sess.EndedAt)
}

func TestStore_TailReturnsLastNInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessID, err := NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = s.StartSession(ctx, sessID, time.Now())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, sessID, RoleAssistant, KindMessage, []byte(`{}`), "", nil, nil)
		require.NoError(t, err)
	}

	tail, err := s.Tail(ctx, sessID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, int64(4), tail[0].Seq)
	require.Equal(t, int64(5), tail[1].Seq)
}
