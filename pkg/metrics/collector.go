package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// WorkloadLister is the part of the store the collector reads
type WorkloadLister interface {
	ListWorkloads() ([]*types.Workload, error)
}

// Collector periodically refreshes gauges and health probes
type Collector struct {
	store    WorkloadLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store WorkloadLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	c.collectWorkloadMetrics()
	RunProbes(ctx)
}

func (c *Collector) collectWorkloadMetrics() {
	workloads, err := c.store.ListWorkloads()
	if err != nil {
		return
	}

	counts := make(map[types.WorkloadState]int, len(types.AllWorkloadStates))
	for _, w := range workloads {
		counts[w.State]++
	}

	// every state is set so a state that emptied drops to zero
	for _, state := range types.AllWorkloadStates {
		WorkloadsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
