/*
Package events is an in-process pub/sub broker for workload lifecycle events.

The executor, reconciler and log poller publish through the Publisher
interface; every subscriber gets its own buffered channel. Delivery is
best-effort: a full subscriber channel drops the event rather than stalling
the publisher, and a full broker buffer drops it at Publish.

Each event carries an Outcome (OK or FAILED) so that a collaborator can keep
an audit trail of what happened to a tenant's workload. LogTo is the simplest
consumer and writes every event to a zerolog logger.
*/
package events
