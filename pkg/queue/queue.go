package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Job kinds
const (
	KindAction    = "action"
	KindReconcile = "reconcile"
	KindPollLogs  = "poll-logs"
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("queue closed")

// Job is one unit of background work
type Job struct {
	ID      string
	Kind    string
	Payload string
}

// Handler processes one job
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs for later execution
type Queue interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// Memory is an in-process FIFO queue with delayed delivery
type Memory struct {
	mu       sync.Mutex
	jobs     chan Job
	pending  map[string]struct{}
	timers   map[string]*time.Timer
	handlers map[string]Handler
	workers  int
	closed   bool
	logger   zerolog.Logger
}

var _ Queue = (*Memory)(nil)

// NewMemory creates a queue served by workers goroutines holding up to
// capacity ready jobs.
func NewMemory(workers, capacity int) *Memory {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{
		jobs:     make(chan Job, capacity),
		pending:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		handlers: make(map[string]Handler),
		workers:  workers,
		logger:   log.WithComponent("queue"),
	}
}

// Handle registers the handler for a job kind
func (q *Memory) Handle(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue schedules job to run after delay. It is a no-op when a job with
// the same ID is already waiting.
func (q *Memory) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if job.ID == "" {
		job.ID = job.Kind
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, dup := q.pending[job.ID]; dup {
		q.mu.Unlock()
		metrics.QueueJobsTotal.WithLabelValues(job.Kind, "deduplicated").Inc()
		q.logger.Debug().Str("job_id", job.ID).Str("kind", job.Kind).Msg("job already pending")
		return nil
	}
	q.pending[job.ID] = struct{}{}
	metrics.QueueDepth.Inc()

	if delay > 0 {
		q.timers[job.ID] = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, job.ID)
			q.mu.Unlock()
			if err := q.push(context.Background(), job); err != nil {
				q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("delayed job dropped")
			}
		})
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	return q.push(ctx, job)
}

func (q *Memory) push(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.forget(job.ID)
		return fmt.Errorf("failed to enqueue %s: %w", job.ID, ctx.Err())
	}
}

func (q *Memory) forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		delete(q.pending, id)
		metrics.QueueDepth.Dec()
	}
}

// Pending reports how many jobs are queued or delayed
func (q *Memory) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run serves jobs until ctx is cancelled. In-flight jobs finish first.
func (q *Memory) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			q.work(ctx, worker)
			return nil
		})
	}
	q.logger.Info().Int("workers", q.workers).Msg("queue started")
	err := g.Wait()
	q.Close()
	q.logger.Info().Msg("queue stopped")
	return err
}

// Close stops delayed jobs and refuses new ones
func (q *Memory) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Memory) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.forget(job.ID)
			q.run(ctx, worker, job)
		}
	}
}

func (q *Memory) run(ctx context.Context, worker int, job Job) {
	logger := q.logger.With().Int("worker", worker).Str("job_id", job.ID).Str("kind", job.Kind).Logger()
	defer func() {
		if r := recover(); r != nil {
			metrics.QueueJobsTotal.WithLabelValues(job.Kind, "panic").Inc()
			logger.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	q.mu.Lock()
	h, ok := q.handlers[job.Kind]
	q.mu.Unlock()
	if !ok {
		metrics.QueueJobsTotal.WithLabelValues(job.Kind, "unhandled").Inc()
		logger.Warn().Msg("no handler for job kind")
		return
	}

	if err := h(ctx, job); err != nil {
		metrics.QueueJobsTotal.WithLabelValues(job.Kind, "error").Inc()
		logger.Warn().Err(err).Msg("job failed")
		return
	}
	metrics.QueueJobsTotal.WithLabelValues(job.Kind, "ok").Inc()
}
