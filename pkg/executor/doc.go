// Package executor runs one action against one workload: the unit of work a
// queue worker executes for every user or reconciler request.
//
// A run waits for the workload's in-process lease, bounded by the lease
// wait, then hands the workload to the dispatcher. The outcome, including
// LastActionID and DateLastStatusUpdate, is persisted once the run
// finishes. Runs rejected before any daemon call leave the workload as it
// was.
package executor
