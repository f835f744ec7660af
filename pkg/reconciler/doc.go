/*
Package reconciler detects workloads whose container drifted away from the
outcome of their last action and re-issues that action within a bounded
retry budget.

# Cycle

A cycle runs as a queue job (kind "reconcile") enqueued by the scheduler.
For every workload that has a last action and a status timestamp:

	┌──────────────────────────────────────────────────────────┐
	│ 1. skip when an executor run holds the workload's lease  │
	│ 2. expected := ExpectedState(last action kind)           │
	│ 3. observed := daemon inspect (no container = deleted)   │
	│ 4. observed == expected   → retries = 0                  │
	│    within grace period    → wait                         │
	│    retries < max_retries  → retries++, re-enqueue action │
	│    otherwise              → report exhaustion once       │
	└──────────────────────────────────────────────────────────┘

Expected states:

	start, restart, unpause → running
	stop                    → exited
	pause                   → paused
	delete                  → deleted (no container)

An inspect error other than "not found" leaves the state unknown and the
workload is skipped for this cycle.

# Exhaustion

When the budget is spent the divergence stays standing. The reconciler
appends one warning log entry starting with ErrReconciliationExhausted,
increments burrow_reconcile_exhausted_total and publishes a
reconcile.exhausted event. The flag is cleared again when the workload
converges.

# Re-issued actions

A re-issued action is the same Action record enqueued again under its own
ID. The executor runs it exactly like a user request, so the action lock
and the cooldown apply. The retry is recorded while the lease is held, and
the lease is released before the job is queued, since the executor waits
for that same lease.
*/
package reconciler
