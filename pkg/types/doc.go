/*
Package types defines the core data structures used throughout burrow.

These types describe the records the lifecycle core reads and writes. They are
persisted as JSON by the storage package and converted to API views by the api
package; no behaviour lives here beyond small helpers.

# Core Types

Workloads:
  - Workload: a managed container instance, its configuration and its
    daemon-assigned identifiers (ContainerID, ImageID, NetworkIP)
  - WorkloadState: initial, pulling, created, running, paused, exited, dead,
    deleting, deleted, failed
  - Ulimit: resource limit applied at container creation

Actions:
  - Action: one requested lifecycle operation on a workload, with the retry
    counter the reconciler maintains
  - ActionKind: start, stop, pause, unpause, restart, delete
  - ActionLock: the single per-workload cooldown record

History:
  - LogEntry: immutable log line tagged with a LogSource and LogLevel
  - LogSource: object, task, proxy, runtime, action
  - LogLevel: debug, info, warning, error

# Lifecycle

A Workload is created in WorkloadStateInitial with no daemon identifiers and
changes state only through the statemachine package. Neither deleted nor
failed is terminal: both accept further actions (start from deleted, delete
from failed).

The workload's LastActionID designates its single outstanding Action; older
actions remain as history.

# Ordering of log entries

Entries are ordered by RuntimeTimestamp when present, else by CreatedAt (see
LogEntry.Timestamp). Entries with equal timestamps keep insertion order.
*/
package types
