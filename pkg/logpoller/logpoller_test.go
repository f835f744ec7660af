package logpoller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/dispatcher"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/runtime/runtimetest"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(ev *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type fixture struct {
	store  *storage.BoltStore
	fake   *runtimetest.Fake
	leases *lock.Keyed
	pub    *recordingPublisher
	p      *Poller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:  store,
		fake:   runtimetest.New(),
		leases: lock.NewKeyed(),
		pub:    &recordingPublisher{},
	}
	f.p = New(store, f.fake, f.leases, f.pub, Config{})
	return f
}

// running stores a running workload backed by container c-1
func (f *fixture) running(t *testing.T) *types.Workload {
	t.Helper()
	f.fake.AddContainer(runtimetest.Container{ID: "c-1", Status: "running", IP: "172.17.0.5"})
	w := &types.Workload{ID: "wl-1", Image: "nginx", State: types.WorkloadStateRunning, ContainerID: "c-1", ImageID: "sha256:1"}
	require.NoError(t, f.store.CreateWorkload(w))
	return w
}

func (f *fixture) runtimeLines(t *testing.T) []*types.LogEntry {
	t.Helper()
	entries, err := f.store.ListLogs("wl-1")
	require.NoError(t, err)
	var out []*types.LogEntry
	for _, e := range entries {
		if e.Source == types.LogSourceRuntime && e.RuntimeTimestamp != nil {
			out = append(out, e)
		}
	}
	return out
}

func messages(entries []*types.LogEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestPollIsIncremental(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	ctx := context.Background()

	f.fake.Emit("c-1", base.Add(100*time.Millisecond), "one")
	f.fake.Emit("c-1", base.Add(200*time.Millisecond), "two")
	require.NoError(t, f.p.Poll(ctx))
	assert.Equal(t, []string{"one", "two"}, messages(f.runtimeLines(t)))

	// same second as the watermark: the daemon returns the old lines again
	f.fake.Emit("c-1", base.Add(300*time.Millisecond), "three")
	require.NoError(t, f.p.Poll(ctx))
	require.NoError(t, f.p.Poll(ctx))

	lines := f.runtimeLines(t)
	assert.Equal(t, []string{"one", "two", "three"}, messages(lines))
	latest, err := f.store.LatestRuntimeTimestamp("wl-1", "c-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(base.Add(300*time.Millisecond)))
}

func TestPollNeverStoresDuplicates(t *testing.T) {
	f := newFixture(t)
	f.running(t)

	f.fake.Emit("c-1", base, "same")
	f.fake.Emit("c-1", base, "same")
	f.fake.Emit("c-1", base, "other")
	require.NoError(t, f.p.Poll(context.Background()))
	require.NoError(t, f.p.Poll(context.Background()))

	type key struct {
		ts   time.Time
		text string
	}
	seen := map[key]bool{}
	lines := f.runtimeLines(t)
	for _, e := range lines {
		k := key{e.RuntimeTimestamp.UTC(), e.Message}
		assert.False(t, seen[k], "duplicate %v", k)
		seen[k] = true
	}
	assert.Len(t, lines, 2)
}

func TestPollAppendsInTimestampOrder(t *testing.T) {
	f := newFixture(t)
	f.running(t)

	f.fake.Emit("c-1", base.Add(2*time.Second), "late")
	f.fake.Emit("c-1", base.Add(time.Second), "early")
	f.fake.Emit("c-1", base.Add(3*time.Second), "last")
	require.NoError(t, f.p.Poll(context.Background()))

	lines := f.runtimeLines(t)
	require.Len(t, lines, 3)
	for i := 1; i < len(lines); i++ {
		assert.False(t, lines[i].RuntimeTimestamp.Before(*lines[i-1].RuntimeTimestamp))
	}
	assert.Equal(t, []string{"early", "late", "last"}, messages(lines))
}

func TestPollRecordsUnparsableLines(t *testing.T) {
	f := newFixture(t)
	f.running(t)

	f.fake.EmitRaw("c-1", "garbage without a timestamp")
	f.fake.Emit("c-1", base, "fine")
	require.NoError(t, f.p.Poll(context.Background()))

	entries, err := f.store.ListLogs("wl-1")
	require.NoError(t, err)
	var warnings []string
	for _, e := range entries {
		if e.Level == types.LogLevelWarning {
			warnings = append(warnings, e.Message)
		}
	}
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "garbage without a timestamp")
	assert.Equal(t, []string{"fine"}, messages(f.runtimeLines(t)))
}

func TestPollRecordsStateChange(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	f.fake.SetStatus("c-1", "exited")

	require.NoError(t, f.p.Poll(context.Background()))

	got, err := f.store.GetWorkload("wl-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateExited, got.State)
	require.NotNil(t, got.DateLastStatusUpdate)
	assert.Equal(t, "172.17.0.5", got.NetworkIP)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.EventWorkloadStateChanged, f.pub.events[0].Type)
}

func TestPollUnchangedStateIsNotWritten(t *testing.T) {
	f := newFixture(t)
	w := f.running(t)

	require.NoError(t, f.p.Poll(context.Background()))

	got, err := f.store.GetWorkload("wl-1")
	require.NoError(t, err)
	assert.Equal(t, w.Version, got.Version)
	assert.Empty(t, f.pub.events)
}

func TestPollContainerVanished(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	f.fake.Vanish("c-1")

	require.NotPanics(t, func() {
		require.NoError(t, f.p.Poll(context.Background()))
	})

	got, err := f.store.GetWorkload("wl-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateFailed, got.State)
	assert.Empty(t, got.ContainerID)
	assert.Empty(t, got.ImageID)
	assert.Empty(t, got.NetworkIP)

	entries, err := f.store.ListLogs("wl-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.LogLevelError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "c-1 no longer exists")
	assert.Equal(t, events.EventWorkloadVanished, f.pub.events[0].Type)

	// nothing left to poll
	f.fake.ResetCalls()
	require.NoError(t, f.p.Poll(context.Background()))
	assert.Empty(t, f.fake.Calls())
}

func TestPollSkipsLeasedWorkload(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	f.fake.Emit("c-1", base, "hello")

	release, ok := f.leases.TryLock("wl-1")
	require.True(t, ok)
	require.NoError(t, f.p.Poll(context.Background()))
	assert.Empty(t, f.fake.Calls())
	release()

	require.NoError(t, f.p.Handle(context.Background(), queue.Job{Kind: queue.KindPollLogs}))
	assert.Len(t, f.runtimeLines(t), 1)
}

func TestPollDoesNotLoseConcurrentAction(t *testing.T) {
	f := newFixture(t)
	w := f.running(t)
	a := &types.Action{WorkloadID: w.ID, Kind: types.ActionStop}
	require.NoError(t, f.store.CreateAction(a))

	d := dispatcher.New(f.fake, lock.NewManager(f.store, time.Minute), dispatcher.Config{DefaultTimeout: time.Second})
	exec := executor.New(f.store, d, f.leases, nil)

	var once sync.Once
	result := make(chan error, 1)
	f.fake.OnCall(func(op, _ string) {
		if op != "inspect" {
			return
		}
		once.Do(func() {
			go func() { result <- exec.Run(context.Background(), a.ID) }()
			time.Sleep(20 * time.Millisecond)
		})
	})

	require.NoError(t, f.p.Poll(context.Background()))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("action did not run")
	}
	f.fake.OnCall(nil)

	got, err := f.store.GetWorkload(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateExited, got.State)
	assert.Equal(t, a.ID, got.LastActionID)
	assert.Contains(t, f.fake.Calls(), "stop:c-1")
}

func TestPollReleasesLeaseBeforeFetch(t *testing.T) {
	f := newFixture(t)
	w := f.running(t)

	var held []bool
	f.fake.OnCall(func(op, _ string) {
		if op == "inspect" || op == "logs" {
			held = append(held, f.leases.Held(w.ID))
		}
	})
	require.NoError(t, f.p.Poll(context.Background()))

	assert.Equal(t, []bool{true, false}, held)
}

func TestPollInspectErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	f.fake.FailAlways("inspect", runtimetest.DaemonError("inspect"))

	require.NoError(t, f.p.Poll(context.Background()))

	got, err := f.store.GetWorkload("wl-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateRunning, got.State)
	assert.Equal(t, "c-1", got.ContainerID)
}

func TestPollRateLimited(t *testing.T) {
	f := newFixture(t)
	f.running(t)
	f.p = New(f.store, f.fake, f.leases, nil, Config{RateLimit: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// the burst covers the inspect; the fetch would wait past the deadline
	require.NoError(t, f.p.Poll(ctx))
	assert.Equal(t, []string{"inspect:c-1"}, f.fake.Calls())
}
