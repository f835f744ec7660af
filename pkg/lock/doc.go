// Package lock serializes actions per workload.
//
// Two layers cooperate. Manager persists one ActionLock row per workload and
// refuses a new acquisition until the cooldown after the previous one has
// elapsed; the check is repeated inside a single bbolt write transaction so
// two callers cannot both pass it. Keyed is an in-process lease. The
// executor waits for it with Lock and holds it for a whole run; the
// reconciler and log poller only TryLock and skip a workload that is being
// acted on.
package lock
