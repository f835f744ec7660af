package reconciler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/dispatcher"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/runtime/runtimetest"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fixture struct {
	store  *storage.BoltStore
	fake   *runtimetest.Fake
	queue  *fakeQueue
	leases *lock.Keyed
	r      *Reconciler
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:  store,
		fake:   runtimetest.New(),
		queue:  &fakeQueue{},
		leases: lock.NewKeyed(),
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.r = NewReconciler(store, f.fake, f.queue, f.leases, nil, Config{GracePeriod: time.Minute})
	f.r.now = func() time.Time { return f.now }
	return f
}

// seed stores a workload whose last action is kind, last updated at f.now
func (f *fixture) seed(t *testing.T, kind types.ActionKind, state types.WorkloadState, containerStatus string, maxRetries int) (*types.Workload, *types.Action) {
	t.Helper()
	w := &types.Workload{ID: "wl-1", Image: "nginx", State: state, MaxRetries: maxRetries}
	if containerStatus != "" {
		f.fake.AddContainer(runtimetest.Container{ID: "c-1", Status: containerStatus})
		w.ContainerID = "c-1"
	}
	require.NoError(t, f.store.CreateWorkload(w))

	a := &types.Action{WorkloadID: w.ID, Kind: kind}
	require.NoError(t, f.store.CreateAction(a))

	stamp := f.now
	w.LastActionID = a.ID
	w.DateLastStatusUpdate = &stamp
	require.NoError(t, f.store.UpdateWorkload(w))
	return w, a
}

func (f *fixture) action(t *testing.T, id string) *types.Action {
	t.Helper()
	a, err := f.store.GetAction(id)
	require.NoError(t, err)
	return a
}

func (f *fixture) warnings(t *testing.T) []string {
	t.Helper()
	entries, err := f.store.ListLogs("wl-1")
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.Level == types.LogLevelWarning {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestExpectedState(t *testing.T) {
	tests := []struct {
		kind types.ActionKind
		want types.WorkloadState
	}{
		{types.ActionStart, types.WorkloadStateRunning},
		{types.ActionRestart, types.WorkloadStateRunning},
		{types.ActionUnpause, types.WorkloadStateRunning},
		{types.ActionStop, types.WorkloadStateExited},
		{types.ActionPause, types.WorkloadStatePaused},
		{types.ActionDelete, types.WorkloadStateDeleted},
	}
	for _, tt := range tests {
		got, ok := ExpectedState(tt.kind)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, tt.kind)
	}
	_, ok := ExpectedState("explode")
	assert.False(t, ok)
}

func TestMatchResetsRetries(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "running", 3)
	a.Retries = 2
	a.Exhausted = true
	require.NoError(t, f.store.UpdateAction(a))

	require.NoError(t, f.r.Reconcile(context.Background()))

	got := f.action(t, a.ID)
	assert.Zero(t, got.Retries)
	assert.False(t, got.Exhausted)
	assert.Zero(t, f.queue.len())
}

func TestMismatchWithinGraceIsTolerated(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.now = f.now.Add(30 * time.Second)

	require.NoError(t, f.r.Reconcile(context.Background()))

	assert.Zero(t, f.action(t, a.ID).Retries)
	assert.Zero(t, f.queue.len())
}

func TestMismatchAfterGraceReissues(t *testing.T) {
	f := newFixture(t)
	w, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.now = f.now.Add(2 * time.Minute)

	require.NoError(t, f.r.Reconcile(context.Background()))

	assert.Equal(t, 1, f.action(t, a.ID).Retries)
	require.Equal(t, 1, f.queue.len())
	assert.Equal(t, queue.Job{ID: a.ID, Kind: queue.KindAction, Payload: a.ID}, f.queue.jobs[0])

	got, err := f.store.GetWorkload(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateExited, got.State, "observed state recorded before the re-issue")
}

type leaseQueue struct {
	leases *lock.Keyed
	held   []bool
}

func (q *leaseQueue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	q.held = append(q.held, q.leases.Held("wl-1"))
	return nil
}

func TestReissueQueuedAfterLeaseReleased(t *testing.T) {
	f := newFixture(t)
	f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.now = f.now.Add(2 * time.Minute)

	q := &leaseQueue{leases: f.leases}
	r := NewReconciler(f.store, f.fake, q, f.leases, nil, Config{GracePeriod: time.Minute})
	r.now = func() time.Time { return f.now }

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, []bool{false}, q.held)
}

func TestReissuedActionRunsOnQueue(t *testing.T) {
	f := newFixture(t)
	w, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.now = f.now.Add(2 * time.Minute)

	d := dispatcher.New(f.fake, lock.NewManager(f.store, time.Minute), dispatcher.Config{DefaultTimeout: time.Second})
	exec := executor.New(f.store, d, f.leases, nil)

	q := queue.NewMemory(2, 16)
	ran := make(chan error, 1)
	q.Handle(queue.KindAction, func(ctx context.Context, job queue.Job) error {
		err := exec.Run(ctx, job.Payload)
		ran <- err
		return err
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	r := NewReconciler(f.store, f.fake, q, f.leases, nil, Config{GracePeriod: time.Minute})
	r.now = func() time.Time { return f.now }
	require.NoError(t, r.Reconcile(ctx))

	select {
	case err := <-ran:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("re-issued action never ran")
	}

	got, err := f.store.GetWorkload(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateRunning, got.State)
	assert.Equal(t, a.ID, got.LastActionID)
	assert.Equal(t, 1, f.action(t, a.ID).Retries)
	assert.Contains(t, f.fake.Calls(), "remove:c-1")
	for _, msg := range f.warnings(t) {
		assert.NotContains(t, msg, "skipped")
	}
}

func TestRetriesNeverPassBudget(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 2)
	f.now = f.now.Add(2 * time.Minute)
	before := testutil.ToFloat64(metrics.ReconcileExhaustedTotal)

	for i := 0; i < 6; i++ {
		require.NoError(t, f.r.Reconcile(context.Background()))
		assert.LessOrEqual(t, f.action(t, a.ID).Retries, 2)
	}

	got := f.action(t, a.ID)
	assert.Equal(t, 2, got.Retries)
	assert.True(t, got.Exhausted)
	assert.Equal(t, 2, f.queue.len(), "no re-issue at the cap")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReconcileExhaustedTotal))

	warnings := f.warnings(t)
	require.Len(t, warnings, 1)
	assert.True(t, strings.HasPrefix(warnings[0], ErrReconciliationExhausted.Error()))
}

func TestZeroBudgetNeverReissues(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionPause, types.WorkloadStatePaused, "running", 0)
	f.now = f.now.Add(time.Hour)

	require.NoError(t, f.r.Reconcile(context.Background()))
	assert.Zero(t, f.queue.len())
	assert.Zero(t, f.action(t, a.ID).Retries)
	assert.Len(t, f.warnings(t), 1)
}

func TestVanishedContainerObservedAsRemoved(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionDelete, types.WorkloadStateExited, "exited", 3)
	a.Retries = 1
	require.NoError(t, f.store.UpdateAction(a))
	f.fake.Vanish("c-1")
	f.now = f.now.Add(time.Hour)

	require.NoError(t, f.r.Reconcile(context.Background()))
	assert.Zero(t, f.action(t, a.ID).Retries)
	assert.Zero(t, f.queue.len())
}

func TestWorkloadWithoutContainerObservedAsRemoved(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateFailed, "", 3)
	f.now = f.now.Add(time.Hour)

	require.NoError(t, f.r.Reconcile(context.Background()))
	assert.Equal(t, 1, f.action(t, a.ID).Retries)
	assert.Empty(t, f.fake.Calls(), "nothing to inspect")
}

func TestInspectErrorSkips(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.fake.FailAlways("inspect", runtimetest.DaemonError("inspect"))
	f.now = f.now.Add(time.Hour)

	require.NoError(t, f.r.Reconcile(context.Background()))
	assert.Zero(t, f.action(t, a.ID).Retries)
	assert.Zero(t, f.queue.len())
}

func TestLeasedWorkloadSkipped(t *testing.T) {
	f := newFixture(t)
	_, a := f.seed(t, types.ActionStart, types.WorkloadStateRunning, "exited", 3)
	f.now = f.now.Add(time.Hour)

	release, ok := f.leases.TryLock("wl-1")
	require.True(t, ok)
	defer release()

	require.NoError(t, f.r.Reconcile(context.Background()))
	assert.Zero(t, f.action(t, a.ID).Retries)
	assert.Empty(t, f.fake.Calls())
}

func TestWorkloadWithoutActionSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "fresh", Image: "nginx"}))

	require.NoError(t, f.r.Handle(context.Background(), queue.Job{Kind: queue.KindReconcile}))
	assert.Empty(t, f.fake.Calls())
}
