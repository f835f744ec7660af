package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestClient(t *testing.T) (*Client, *storage.BoltStore, *queue.Memory) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q := queue.NewMemory(1, 16)
	t.Cleanup(q.Close)
	srv := api.NewServer(store, q, api.Config{DefaultTimeout: 60, DefaultMaxRetries: 3})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(ts.URL)
	require.NoError(t, err)
	return c, store, q
}

func TestNewClientAddsScheme(t *testing.T) {
	c, err := NewClient("127.0.0.1:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", c.base)

	_, err = NewClient("")
	assert.Error(t, err)
}

func TestWorkloadRoundTrip(t *testing.T) {
	c, _, _ := newTestClient(t)

	created, err := c.CreateWorkload(&api.CreateWorkloadRequest{ID: "wl-1", Tenant: "acme", Image: "nginx"})
	require.NoError(t, err)
	assert.Equal(t, "initial", created.State)

	got, err := c.GetWorkload("wl-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Tenant)

	list, err := c.ListWorkloads("acme")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = c.ListWorkloads("globex")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitAction(t *testing.T) {
	c, _, q := newTestClient(t)
	_, err := c.CreateWorkload(&api.CreateWorkloadRequest{ID: "wl-1", Image: "nginx"})
	require.NoError(t, err)

	a, err := c.SubmitAction("wl-1", "start", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "start", a.Action)
	assert.Equal(t, 1, q.Pending())

	actions, err := c.ListActions("wl-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, a.ID, actions[0].ID)
}

func TestSubmitIllegalActionIsConflict(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.CreateWorkload(&api.CreateWorkloadRequest{ID: "wl-1", Image: "nginx"})
	require.NoError(t, err)

	_, err = c.SubmitAction("wl-1", "unpause", 0)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "HTTP 409")
}

func TestRemoveWorkload(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.CreateWorkload(&api.CreateWorkloadRequest{ID: "wl-1", Image: "nginx"})
	require.NoError(t, err)

	require.NoError(t, c.RemoveWorkload("wl-1"))
	_, err = c.GetWorkload("wl-1")
	assert.True(t, IsNotFound(err))

	err = c.RemoveWorkload("wl-1")
	assert.True(t, IsNotFound(err))
}

func TestGetMissingWorkload(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.GetWorkload("nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestLogs(t *testing.T) {
	c, store, _ := newTestClient(t)
	require.NoError(t, store.CreateWorkload(&types.Workload{ID: "wl-1", Image: "nginx"}))
	require.NoError(t, store.AppendLogs(
		&types.LogEntry{WorkloadID: "wl-1", Source: types.LogSourceTask, Level: types.LogLevelInfo, Message: "queued"},
		&types.LogEntry{WorkloadID: "wl-1", Source: types.LogSourceAction, Level: types.LogLevelInfo, Message: "Pulling image nginx"},
	))

	all, err := c.Logs("wl-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	steps, err := c.Logs("wl-1", "action")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Pulling image nginx", steps[0].Message)
}

func TestPlainTextErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL)
	require.NoError(t, err)
	_, err = c.GetWorkload("wl-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream gone", apiErr.Message)
}
