package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/storage"
	"github.com/sreops/operator/pkg/subject"
	"github.com/sreops/operator/pkg/ticket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubject struct {
	obs *subject.Observation
	err error
}

func (f *fakeSubject) Observe(ctx context.Context) (*subject.Observation, error) { return f.obs, f.err }
func (f *fakeSubject) ListActionDefinitions() []subject.ActionDefinition         { return nil }
func (f *fakeSubject) ExecuteAction(ctx context.Context, name string, params map[string]any) error {
	return nil
}
func (f *fakeSubject) GetConfig() subject.Config                          { return subject.Config{Name: "fake"} }
func (f *fakeSubject) Reset(ctx context.Context) error                    { return nil }
func (f *fakeSubject) SnapshotState(ctx context.Context) (map[string]any, error) { return nil, nil }
func (f *fakeSubject) IsHealthy(state map[string]any) bool                { return true }
func (f *fakeSubject) SupportsChaos() []string                            { return nil }
func (f *fakeSubject) SupportsParallelTrials() bool                       { return true }

type fakeChecker struct {
	findings []invariant.Finding
}

func (f *fakeChecker) Check(obs *subject.Observation) []invariant.Finding { return f.findings }
func (f *fakeChecker) Configs() map[string]invariant.Config               { return invariant.StandardConfigs() }

func newTestLoop(t *testing.T, sub subject.Subject, checker subject.Checker) (*Loop, *ticket.Store) {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := ticket.NewStore(db)
	loop := &Loop{
		SubjectName: "fake",
		Subject:     sub,
		Checker:     checker,
		Tickets:     store,
		Engine:      invariant.NewEngine(invariant.StandardConfigs()),
		Interval:    time.Second,
	}
	return loop, store
}

func TestLoop_Tick_OpensTicketOnViolation(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{findings: []invariant.Finding{
		{InvariantName: invariant.EntityUnreachable, EntityID: "n1", Violated: true, Message: "node n1 is down"},
	}}
	loop, store := newTestLoop(t, &fakeSubject{obs: &subject.Observation{}}, checker)

	loop.tick(ctx, time.Second, discardLogger())

	tickets, err := store.List(ctx, ticket.ListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, "entity_unreachable:n1", tickets[0].ViolationKey)
}

func TestLoop_Tick_ObserveFailureEmitsSyntheticControlPlaneDown(t *testing.T) {
	ctx := context.Background()
	loop, store := newTestLoop(t, &fakeSubject{err: &subject.ObserveError{Kind: subject.ObserveErrorTransient}}, &fakeChecker{})

	loop.tick(ctx, time.Second, discardLogger())

	tickets, err := store.List(ctx, ticket.ListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, invariant.ControlPlaneDown, tickets[0].InvariantName)
}

func TestLoop_Tick_ObserveFailureDoesNotAutoResolveOpenTickets(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{findings: []invariant.Finding{
		{InvariantName: invariant.EntityUnreachable, EntityID: "n1", Violated: true, Message: "node n1 is down"},
	}}
	sub := &fakeSubject{obs: &subject.Observation{}}
	loop, store := newTestLoop(t, sub, checker)

	loop.tick(ctx, time.Second, discardLogger())

	sub.obs, sub.err = nil, &subject.ObserveError{Kind: subject.ObserveErrorTransient}
	loop.tick(ctx, time.Second, discardLogger())

	tickets, err := store.List(ctx, ticket.ListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 2)

	byInvariant := map[string]ticket.Ticket{}
	for _, tk := range tickets {
		byInvariant[tk.InvariantName] = tk
	}
	require.Equal(t, ticket.StatusOpen, byInvariant[invariant.EntityUnreachable].Status)
	require.Equal(t, 1, byInvariant[invariant.EntityUnreachable].OccurrenceCount)
	require.Equal(t, ticket.StatusOpen, byInvariant[invariant.ControlPlaneDown].Status)
}

func TestLoop_Tick_AutoResolvesWhenViolationClears(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{findings: []invariant.Finding{
		{InvariantName: invariant.EntityUnreachable, EntityID: "n1", Violated: true, Message: "down"},
	}}
	loop, store := newTestLoop(t, &fakeSubject{obs: &subject.Observation{}}, checker)

	loop.tick(ctx, time.Second, discardLogger())
	checker.findings = nil
	loop.tick(ctx, time.Second, discardLogger())

	tickets, err := store.List(ctx, ticket.ListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, ticket.StatusResolved, tickets[0].Status)
}
