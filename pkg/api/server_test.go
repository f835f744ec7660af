package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type enqueued struct {
	job   queue.Job
	delay time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, enqueued{job: job, delay: delay})
	return nil
}

type fixture struct {
	store *storage.BoltStore
	queue *fakeQueue
	ts    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, queue: &fakeQueue{}}
	srv := NewServer(store, f.queue, Config{DefaultTimeout: 60, DefaultMaxRetries: 3})
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCreateWorkloadAppliesDefaults(t *testing.T) {
	f := newFixture(t)

	var got WorkloadView
	code := f.do(t, http.MethodPost, "/v1/workloads", CreateWorkloadRequest{
		Tenant: "acme",
		Image:  "nginx:1.27",
		Port:   80,
	}, &got)
	require.Equal(t, http.StatusCreated, code)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, got.ID, got.Name)
	assert.Equal(t, "initial", got.State)
	assert.Equal(t, 60, got.Timeout)
	assert.Equal(t, 3, got.MaxRetries)

	stored, err := f.store.GetWorkload(got.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadStateInitial, stored.State)
	assert.Equal(t, "acme", stored.Tenant)
}

func TestCreateWorkloadExplicitZeroRetries(t *testing.T) {
	f := newFixture(t)
	zero := 0

	var got WorkloadView
	code := f.do(t, http.MethodPost, "/v1/workloads", CreateWorkloadRequest{
		ID: "wl-1", Image: "nginx", MaxRetries: &zero,
	}, &got)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 0, got.MaxRetries)
}

func TestCreateWorkloadValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing image", CreateWorkloadRequest{Tenant: "acme"}},
		{"bad image", CreateWorkloadRequest{Image: "UPPER/Case::"}},
		{"negative timeout", CreateWorkloadRequest{Image: "nginx", Timeout: -1}},
		{"unknown field", map[string]any{"image": "nginx", "replicas": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			code := f.do(t, http.MethodPost, "/v1/workloads", tt.body, &errResp)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestCreateWorkloadDuplicateID(t *testing.T) {
	f := newFixture(t)
	body := CreateWorkloadRequest{ID: "wl-1", Image: "nginx"}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/workloads", body, nil))
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/workloads", body, nil))
}

func TestListWorkloadsByTenant(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "a", Tenant: "acme", Image: "nginx"}))
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "b", Tenant: "globex", Image: "nginx"}))

	var all []WorkloadView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads", nil, &all))
	assert.Len(t, all, 2)

	var acme []WorkloadView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads?tenant=acme", nil, &acme))
	require.Len(t, acme, 1)
	assert.Equal(t, "a", acme[0].ID)
}

func TestGetWorkloadReportsRetries(t *testing.T) {
	f := newFixture(t)
	action := &types.Action{ID: "act-1", WorkloadID: "wl-1", Kind: types.ActionStart, Retries: 2}
	require.NoError(t, f.store.CreateAction(action))
	require.NoError(t, f.store.CreateWorkload(&types.Workload{
		ID: "wl-1", Image: "nginx", State: types.WorkloadStateRunning,
		ContainerID: "c-1", LastActionID: "act-1",
	}))

	var got WorkloadView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads/wl-1", nil, &got))
	assert.Equal(t, "running", got.State)
	assert.Equal(t, "c-1", got.ContainerID)
	assert.Equal(t, "start", got.LastAction)
	assert.Equal(t, 2, got.Retries)
}

func TestGetWorkloadNotFound(t *testing.T) {
	f := newFixture(t)
	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/workloads/nope", nil, &errResp))
	assert.Contains(t, errResp.Error, "not found")
}

func TestDeleteWorkloadRemovesHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx", State: types.WorkloadStateDeleted}))
	require.NoError(t, f.store.CreateAction(&types.Action{WorkloadID: "wl-1", Kind: types.ActionDelete}))
	require.NoError(t, f.store.AppendLogs(&types.LogEntry{WorkloadID: "wl-1", Message: "Workload deleted"}))

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/workloads/wl-1", nil, nil))

	_, err := f.store.GetWorkload("wl-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	actions, err := f.store.ListActionsByWorkload("wl-1")
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/workloads/wl-1", nil, nil))
}

func TestDeleteWorkloadWithContainerConflicts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{
		ID: "wl-1", Image: "nginx", State: types.WorkloadStateRunning, ContainerID: "c-1",
	}))
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-2", Image: "nginx", State: types.WorkloadStateFailed}))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/v1/workloads/wl-1", nil, &errResp))
	assert.Contains(t, errResp.Error, "c-1")
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/v1/workloads/wl-2", nil, nil))

	_, err := f.store.GetWorkload("wl-1")
	assert.NoError(t, err)
	_, err = f.store.GetWorkload("wl-2")
	assert.NoError(t, err)
}

func TestCreateActionEnqueues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))

	var got ActionView
	code := f.do(t, http.MethodPost, "/v1/workloads/wl-1/actions", CreateActionRequest{Action: "start", Delay: "30s"}, &got)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "start", got.Action)
	assert.Equal(t, "wl-1", got.WorkloadID)

	stored, err := f.store.GetAction(got.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActionStart, stored.Kind)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, queue.Job{ID: got.ID, Kind: queue.KindAction, Payload: got.ID}, f.queue.jobs[0].job)
	assert.Equal(t, 30*time.Second, f.queue.jobs[0].delay)
}

func TestCreateActionIllegalTransition(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))

	var errResp ErrorResponse
	code := f.do(t, http.MethodPost, "/v1/workloads/wl-1/actions", CreateActionRequest{Action: "pause"}, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, errResp.Error, "not allowed while workload is \"initial\"")
	assert.Empty(t, f.queue.jobs)

	actions, err := f.store.ListActionsByWorkload("wl-1")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestCreateActionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/v1/workloads/wl-1/actions", CreateActionRequest{Action: "explode"}, nil))
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/v1/workloads/wl-1/actions", CreateActionRequest{Action: "start", Delay: "soon"}, nil))
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/v1/workloads/nope/actions", CreateActionRequest{Action: "start"}, nil))
	assert.Empty(t, f.queue.jobs)
}

func TestCreateActionQueueUnavailable(t *testing.T) {
	f := newFixture(t)
	f.queue.err = queue.ErrClosed
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))

	code := f.do(t, http.MethodPost, "/v1/workloads/wl-1/actions", CreateActionRequest{Action: "start"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestListActions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))
	require.NoError(t, f.store.CreateAction(&types.Action{WorkloadID: "wl-1", Kind: types.ActionStart}))

	var got []ActionView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads/wl-1/actions", nil, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "start", got[0].Action)
}

func TestListLogsFiltersBySource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	require.NoError(t, f.store.AppendLogs(
		&types.LogEntry{WorkloadID: "wl-1", Source: types.LogSourceTask, Level: types.LogLevelInfo, Message: "Action started", CreatedAt: t0},
		&types.LogEntry{WorkloadID: "wl-1", Source: types.LogSourceRuntime, Level: types.LogLevelInfo, Message: "hello", RuntimeTimestamp: &t1, CreatedAt: t1},
	))

	var all []LogEntryView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads/wl-1/logs", nil, &all))
	require.Len(t, all, 2)
	assert.Equal(t, "Action started", all[0].Message)
	assert.Equal(t, "hello", all[1].Message)

	var runtimeOnly []LogEntryView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/workloads/wl-1/logs?source=runtime", nil, &runtimeOnly))
	require.Len(t, runtimeOnly, 1)
	require.NotNil(t, runtimeOnly[0].RuntimeTimestamp)
	assert.True(t, runtimeOnly[0].RuntimeTimestamp.Equal(t1))
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/live", "/metrics"} {
		resp, err := http.Get(f.ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/v1/workloads", nil, nil))
}
