package statemachine

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// Transition names one edge family of the state machine
type Transition string

const (
	TransitionPull        Transition = "pull"
	TransitionStart       Transition = "start"
	TransitionStartFailed Transition = "start-failed"
	TransitionPause       Transition = "pause"
	TransitionUnpause     Transition = "unpause"
	TransitionStop        Transition = "stop"
	TransitionRemove      Transition = "remove"
	TransitionRemoveOK    Transition = "remove-ok"
	TransitionFail        Transition = "fail"
)

// DaemonCall is the runtime operation a transition issues
type DaemonCall string

const (
	CallNone    DaemonCall = ""
	CallPull    DaemonCall = "pull"
	CallStart   DaemonCall = "start"
	CallStop    DaemonCall = "stop"
	CallPause   DaemonCall = "pause"
	CallUnpause DaemonCall = "unpause"
	CallRemove  DaemonCall = "remove"
)

// Edge is one row of the transition table
type Edge struct {
	Name    Transition
	Sources []types.WorkloadState // nil means any state
	Target  types.WorkloadState
	Call    DaemonCall
}

// table is the complete transition table.
//
//	pull         initial|deleted|failed                 → pulling   (pull image)
//	start        pulling|created|exited                 → running   (start)
//	start-failed pulling                                → created   (local only)
//	pause        running                                → paused    (pause)
//	unpause      paused                                 → running   (unpause)
//	stop         running|paused                         → exited    (stop)
//	remove       exited|failed|created|dead|pulling     → deleting  (remove)
//	remove-ok    deleting                               → deleted   (local only)
//	fail         *                                      → failed    (local only)
var table = map[Transition]Edge{
	TransitionPull: {
		Name:    TransitionPull,
		Sources: []types.WorkloadState{types.WorkloadStateInitial, types.WorkloadStateDeleted, types.WorkloadStateFailed},
		Target:  types.WorkloadStatePulling,
		Call:    CallPull,
	},
	TransitionStart: {
		Name:    TransitionStart,
		Sources: []types.WorkloadState{types.WorkloadStatePulling, types.WorkloadStateCreated, types.WorkloadStateExited},
		Target:  types.WorkloadStateRunning,
		Call:    CallStart,
	},
	TransitionStartFailed: {
		Name:    TransitionStartFailed,
		Sources: []types.WorkloadState{types.WorkloadStatePulling},
		Target:  types.WorkloadStateCreated,
		Call:    CallNone,
	},
	TransitionPause: {
		Name:    TransitionPause,
		Sources: []types.WorkloadState{types.WorkloadStateRunning},
		Target:  types.WorkloadStatePaused,
		Call:    CallPause,
	},
	TransitionUnpause: {
		Name:    TransitionUnpause,
		Sources: []types.WorkloadState{types.WorkloadStatePaused},
		Target:  types.WorkloadStateRunning,
		Call:    CallUnpause,
	},
	TransitionStop: {
		Name:    TransitionStop,
		Sources: []types.WorkloadState{types.WorkloadStateRunning, types.WorkloadStatePaused},
		Target:  types.WorkloadStateExited,
		Call:    CallStop,
	},
	TransitionRemove: {
		Name: TransitionRemove,
		Sources: []types.WorkloadState{
			types.WorkloadStateExited,
			types.WorkloadStateFailed,
			types.WorkloadStateCreated,
			types.WorkloadStateDead,
			types.WorkloadStatePulling,
		},
		Target: types.WorkloadStateDeleting,
		Call:   CallRemove,
	},
	TransitionRemoveOK: {
		Name:    TransitionRemoveOK,
		Sources: []types.WorkloadState{types.WorkloadStateDeleting},
		Target:  types.WorkloadStateDeleted,
		Call:    CallNone,
	},
	TransitionFail: {
		Name:   TransitionFail,
		Target: types.WorkloadStateFailed,
		Call:   CallNone,
	},
}

// Transitions returns every transition name in a stable order
func Transitions() []Transition {
	return []Transition{
		TransitionPull,
		TransitionStart,
		TransitionStartFailed,
		TransitionPause,
		TransitionUnpause,
		TransitionStop,
		TransitionRemove,
		TransitionRemoveOK,
		TransitionFail,
	}
}

// Lookup returns the table row for t
func Lookup(t Transition) (Edge, bool) {
	e, ok := table[t]
	return e, ok
}

// Allowed reports whether t may fire from state
func Allowed(t Transition, from types.WorkloadState) bool {
	e, ok := table[t]
	if !ok {
		return false
	}
	if e.Sources == nil {
		return from.Valid()
	}
	for _, s := range e.Sources {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionError is returned when a transition is not legal from the current state
type TransitionError struct {
	Transition Transition
	From       types.WorkloadState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %q not allowed from state %q", e.Transition, e.From)
}

// Machine tracks the state of a single workload
type Machine struct {
	state types.WorkloadState
}

// New returns a machine positioned at state; an empty state means initial
func New(state types.WorkloadState) *Machine {
	if state == "" {
		state = types.WorkloadStateInitial
	}
	return &Machine{state: state}
}

// State returns the current state
func (m *Machine) State() types.WorkloadState {
	return m.state
}

// Can reports whether t may fire now
func (m *Machine) Can(t Transition) bool {
	return Allowed(t, m.state)
}

// Check returns the edge for t or a *TransitionError without changing state
func (m *Machine) Check(t Transition) (Edge, error) {
	if !m.Can(t) {
		return Edge{}, &TransitionError{Transition: t, From: m.state}
	}
	return table[t], nil
}

// Fire moves the machine along t
func (m *Machine) Fire(t Transition) (types.WorkloadState, error) {
	e, err := m.Check(t)
	if err != nil {
		return m.state, err
	}
	m.state = e.Target
	return m.state, nil
}
