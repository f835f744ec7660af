// Package statemachine defines the per-workload finite state machine: the
// legal transitions between workload states and the daemon call each one
// triggers.
package statemachine
