// Package logpoller keeps each workload's observed state and runtime log in
// step with the daemon.
//
// Every poll inspects the container, records a changed state, then fetches
// the log lines emitted since the newest line already stored. The daemon
// only honours "since" to the second, so lines at or before the stored
// watermark are dropped and repeats inside one batch are collapsed before
// anything is appended.
//
// The workload's lease is taken with TryLock around the inspect only, so a
// poll never makes an action wait on a log fetch.
package logpoller
