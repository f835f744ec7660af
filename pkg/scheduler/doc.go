/*
Package scheduler enqueues periodic background work.

Burrow has two periodic jobs: the reconciliation pass and the log poll.
Neither runs inside the scheduler. Each tick only submits a job to the
queue, and a queue worker runs it like any other job:

	┌───────────┐  every reconciler.interval  ┌────────────┐
	│ Scheduler │ ──────────────────────────▶ │            │ ──▶ reconciler
	│  tickers  │  every logpoller.interval   │   queue    │
	│           │ ──────────────────────────▶ │            │ ──▶ log poller
	└───────────┘                             └────────────┘

The job ID of a periodic job is its kind. When a pass is still waiting in
the queue the next tick is absorbed, so a slow daemon never builds a
backlog of identical passes.

# Usage

	s := scheduler.NewScheduler(q,
		scheduler.Task{Kind: queue.KindReconcile, Interval: 30 * time.Second},
		scheduler.Task{Kind: queue.KindPollLogs, Interval: 5 * time.Second},
	)
	s.Start()
	defer s.Stop()

A task with a zero interval is disabled.
*/
package scheduler
