/*
Package storage persists burrow's records in a single BoltDB file.

BoltStore implements Store with one bucket per record type. Values are JSON
encoded; keys are record IDs except for log entries:

	workloads   id → Workload
	actions     id → Action
	locks       id → ActionLock
	logs        workload id → (sequence → LogEntry)
	log_marks   workload id → (container id → latest runtime timestamp)

# Concurrency

bbolt runs at most one read-write transaction at a time. UpdateLock relies on
this: the callback sees every lock row of the workload and decides what to
write without any other writer interleaving, which is the row lock the action
lock protocol needs.

Workloads carry a Version. UpdateWorkload rejects a save whose Version does
not match the stored record with ErrConflict, so a reader that raced with an
executor run never overwrites its result. ForceUpdateWorkload skips the check
and is reserved for marking a workload failed after a daemon error.

# Log entries

Entries are appended under a per-workload bucket keyed by NextSequence, so
insertion order is preserved. ListLogs sorts them stably by runtime timestamp,
falling back to creation time. AppendLogs also maintains the newest runtime
timestamp per container, which the log poller reads back to resume fetching.

Deleting a workload removes its actions, locks and log entries in the same
transaction.
*/
package storage
