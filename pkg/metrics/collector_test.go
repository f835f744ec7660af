package metrics

import (
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	workloads []*types.Workload
	err       error
}

func (f *fakeLister) ListWorkloads() ([]*types.Workload, error) {
	return f.workloads, f.err
}

func TestCollectWorkloadMetrics(t *testing.T) {
	lister := &fakeLister{workloads: []*types.Workload{
		{State: types.WorkloadStateRunning},
		{State: types.WorkloadStateRunning},
		{State: types.WorkloadStateFailed},
	}}
	c := NewCollector(lister, 0)

	c.collectWorkloadMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(WorkloadsTotal.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkloadsTotal.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(WorkloadsTotal.WithLabelValues("paused")))

	lister.workloads = lister.workloads[2:]
	c.collectWorkloadMetrics()
	assert.Equal(t, 0.0, testutil.ToFloat64(WorkloadsTotal.WithLabelValues("running")))

	// a failing store leaves the last values alone
	lister.err = errors.New("closed")
	c.collectWorkloadMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkloadsTotal.WithLabelValues("failed")))
}
