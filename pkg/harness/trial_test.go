package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/chaos"
	"github.com/sreops/operator/pkg/config"
	"github.com/sreops/operator/pkg/invariant"
	"github.com/sreops/operator/pkg/storage"
	"github.com/sreops/operator/pkg/subject"
)

type fakeSubject struct {
	resetCalls int
	resetErr   error
	snapshot   map[string]any
	healthy    bool
}

func (f *fakeSubject) Observe(ctx context.Context) (*subject.Observation, error) { return nil, nil }
func (f *fakeSubject) ListActionDefinitions() []subject.ActionDefinition         { return nil }
func (f *fakeSubject) ExecuteAction(ctx context.Context, name string, params map[string]any) error {
	return nil
}
func (f *fakeSubject) GetConfig() subject.Config { return subject.Config{Name: "fake"} }
func (f *fakeSubject) Reset(ctx context.Context) error {
	f.resetCalls++
	return f.resetErr
}
func (f *fakeSubject) SnapshotState(ctx context.Context) (map[string]any, error) {
	return f.snapshot, nil
}
func (f *fakeSubject) IsHealthy(state map[string]any) bool { return f.healthy }
func (f *fakeSubject) SupportsChaos() []string              { return []string{"node_kill"} }
func (f *fakeSubject) SupportsParallelTrials() bool          { return true }

type fakeChecker struct{}

func (fakeChecker) Check(obs *subject.Observation) []invariant.Finding { return nil }
func (fakeChecker) Configs() map[string]invariant.Config               { return nil }

type fakeInjector struct {
	injectErr error
	cleanupErr error
	injected  bool
	cleaned   bool
}

func (f *fakeInjector) Type() string { return "node_kill" }
func (f *fakeInjector) Inject(ctx context.Context, params map[string]any) (map[string]any, error) {
	if f.injectErr != nil {
		return nil, f.injectErr
	}
	f.injected = true
	return map[string]any{"container": params["container"]}, nil
}
func (f *fakeInjector) Cleanup(ctx context.Context, metadata map[string]any) error {
	f.cleaned = true
	return f.cleanupErr
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func newTestExecutor(t *testing.T, sub subject.Subject, injector chaos.Injector) (*Executor, *Store) {
	t.Helper()
	store := newTestStore(t)

	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	auditStore := audit.NewStore(db)

	subjects := subject.NewRegistry()
	subjects.Register("test-subject", func(endpoints map[string]string) (subject.Subject, subject.Checker, error) {
		return sub, fakeChecker{}, nil
	}, nil)

	var injectors []chaos.Injector
	if injector != nil {
		injectors = append(injectors, injector)
	}
	chaosRegistry := chaos.NewRegistryFromInjectors(injectors)

	return &Executor{
		Subjects: subjects,
		Chaos:    chaosRegistry,
		Trials:   store,
		Audit:    auditStore,
		RunAgent: func(ctx context.Context, sessionID string, sub subject.Subject, trial Trial) (bool, error) {
			return false, nil
		},
	}, store
}

func TestRun_HappyPathTransitionsToComplete(t *testing.T) {
	sub := &fakeSubject{snapshot: map[string]any{"ok": true}, healthy: true}
	executor, store := newTestExecutor(t, sub, nil)

	campaignID := "camp-1"
	trial := NewPendingTrial(campaignID, Spec{Subject: "test-subject", ChaosType: "none"})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, 1, sub.resetCalls)
	require.NotEmpty(t, result.AgentSessionID)
}

func TestRun_ResetFailureMarksTrialFailed(t *testing.T) {
	sub := &fakeSubject{resetErr: errors.New("control plane unreachable")}
	executor, store := newTestExecutor(t, sub, nil)

	trial := NewPendingTrial("camp-1", Spec{Subject: "test-subject", ChaosType: "none"})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "reset subject")
}

func TestRun_ChaosInjectFailureSkipsAgentButStillCleansUp(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	injector := &fakeInjector{injectErr: errors.New("docker unreachable")}
	executor, store := newTestExecutor(t, sub, injector)

	trial := NewPendingTrial("camp-1", Spec{Subject: "test-subject", ChaosType: "node_kill", Params: map[string]any{"container": "c1"}})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "chaos inject failed")
	require.Empty(t, result.AgentSessionID, "agent step must not run after a failed chaos injection")
	require.True(t, injector.cleaned, "cleanup must still run after a failed chaos injection")
}

func TestRun_ChaosCleanupRunsAfterSuccessfulInject(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	injector := &fakeInjector{}
	executor, store := newTestExecutor(t, sub, injector)

	trial := NewPendingTrial("camp-1", Spec{Subject: "test-subject", ChaosType: "node_kill", Params: map[string]any{"container": "c1"}})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusComplete, result.Status)
	require.True(t, injector.injected)
	require.True(t, injector.cleaned)
	require.NotNil(t, result.ChaosInjectedAt)
}

func TestRun_AgentErrorMarksTrialFailed(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	executor, store := newTestExecutor(t, sub, nil)
	executor.RunAgent = func(ctx context.Context, sessionID string, sub subject.Subject, trial Trial) (bool, error) {
		return false, errors.New("provider unreachable")
	}

	trial := NewPendingTrial("camp-1", Spec{Subject: "test-subject", ChaosType: "none"})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "provider unreachable")
}

func TestRun_TimeoutMarksTrialFailed(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	executor, store := newTestExecutor(t, sub, nil)
	executor.RunAgent = func(ctx context.Context, sessionID string, sub subject.Subject, trial Trial) (bool, error) {
		return true, nil
	}

	trial := NewPendingTrial("camp-1", Spec{Subject: "test-subject", ChaosType: "none"})
	require.NoError(t, store.Insert(context.Background(), trial))

	result := executor.Run(context.Background(), trial)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "timeout", result.Error)
}

func TestExpandMatrix_CartesianProductWithBaseline(t *testing.T) {
	cfg := config.CampaignConfig{
		Subjects:             []string{"ratelimiter", "kvstore"},
		ChaosTypes:           []config.ChaosSpec{{Type: "node_kill"}, {Type: "latency"}},
		TrialsPerCombination: 2,
		IncludeBaseline:      true,
	}
	specs := ExpandMatrix(cfg)
	// Per subject: 1 baseline*2 trials + 2 chaos types*2 trials = 6; 2 subjects = 12.
	require.Len(t, specs, 12)

	var baselineCount int
	for _, s := range specs {
		if s.ChaosType == "none" {
			baselineCount++
		}
	}
	require.Equal(t, 4, baselineCount)
}

func TestExpandMatrix_NoBaseline(t *testing.T) {
	cfg := config.CampaignConfig{
		Subjects:             []string{"ratelimiter"},
		ChaosTypes:           []config.ChaosSpec{{Type: "node_kill"}},
		TrialsPerCombination: 3,
	}
	specs := ExpandMatrix(cfg)
	require.Len(t, specs, 3)
	for _, s := range specs {
		require.Equal(t, "node_kill", s.ChaosType)
	}
}

func TestRunCampaign_RunsAllTrialsWithBoundedConcurrency(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	executor, store := newTestExecutor(t, sub, nil)

	campaignID := "camp-parallel"
	var trials []Trial
	for i := 0; i < 5; i++ {
		tr := NewPendingTrial(campaignID, Spec{Subject: "test-subject", ChaosType: "none"})
		require.NoError(t, store.Insert(context.Background(), tr))
		trials = append(trials, tr)
	}

	runner := &Runner{Executor: executor, Trials: store}
	results, err := runner.RunCampaign(context.Background(), campaignID, 2, 0, trials)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		require.Equal(t, StatusComplete, r.Status)
	}
}

func TestRunCampaign_CancellationStopsSchedulingNewTrials(t *testing.T) {
	sub := &fakeSubject{healthy: true}
	executor, store := newTestExecutor(t, sub, nil)
	executor.RunAgent = func(ctx context.Context, sessionID string, sub subject.Subject, trial Trial) (bool, error) {
		time.Sleep(50 * time.Millisecond)
		return false, nil
	}

	campaignID := "camp-cancel"
	var trials []Trial
	for i := 0; i < 10; i++ {
		tr := NewPendingTrial(campaignID, Spec{Subject: "test-subject", ChaosType: "none"})
		require.NoError(t, store.Insert(context.Background(), tr))
		trials = append(trials, tr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	runner := &Runner{Executor: executor, Trials: store}
	results, err := runner.RunCampaign(ctx, campaignID, 1, 20*time.Millisecond, trials)
	require.Error(t, err)

	var completed int
	for _, r := range results {
		if r.Status == StatusComplete {
			completed++
		}
	}
	require.Less(t, completed, 10, "cancellation must stop scheduling before every trial runs")
}
