package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/queue"
)

// Task is a job kind enqueued on a fixed interval
type Task struct {
	Kind     string
	Interval time.Duration
}

// Scheduler runs on a timer and enqueues periodic work
type Scheduler struct {
	queue  queue.Queue
	tasks  []Task
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewScheduler creates a scheduler for the given tasks. Tasks with a
// non-positive interval are disabled.
func NewScheduler(q queue.Queue, tasks ...Task) *Scheduler {
	return &Scheduler{
		queue:  q,
		tasks:  tasks,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("scheduler"),
	}
}

// Start begins one ticker loop per task
func (s *Scheduler) Start() {
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.logger.Info().Str("kind", task.Kind).Msg("periodic task disabled")
			continue
		}
		s.wg.Add(1)
		go s.run(task)
	}
}

// Stop stops all loops and waits for them to exit
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// run is the loop of one periodic task
func (s *Scheduler) run(task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.logger.Debug().Str("kind", task.Kind).Dur("interval", task.Interval).Msg("periodic task started")
	for {
		select {
		case <-ticker.C:
			s.enqueue(task.Kind)
		case <-s.stopCh:
			return
		}
	}
}

// enqueue submits one run of kind. The job ID is the kind so a run still
// waiting in the queue absorbs the next tick.
func (s *Scheduler) enqueue(kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.queue.Enqueue(ctx, queue.Job{ID: kind, Kind: kind}, 0); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("failed to enqueue periodic task")
	}
}
