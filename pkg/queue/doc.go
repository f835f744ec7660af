// Package queue runs background jobs on a pool of workers.
//
// Jobs carry a kind and an ID. A job whose ID is still waiting to run is not
// queued a second time, which keeps periodic jobs from piling up behind a
// slow worker. Failed jobs are logged and never retried by the queue.
//
// Three job kinds are handled by burrow: KindAction runs one action through
// the executor, KindReconcile and KindPollLogs run a reconciler or log
// poller sweep.
package queue
