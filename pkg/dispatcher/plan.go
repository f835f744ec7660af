package dispatcher

import (
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/statemachine"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrIllegalTransition is returned when an action is not valid for the workload's state
var ErrIllegalTransition = errors.New("illegal transition")

// IllegalTransitionError names the rejected action and the state it was requested in
type IllegalTransitionError struct {
	Action types.ActionKind
	State  types.WorkloadState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("action %q is not allowed while workload is %q", e.Action, e.State)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

var (
	pullStart     = []statemachine.Transition{statemachine.TransitionPull, statemachine.TransitionStart}
	removeOnly    = []statemachine.Transition{statemachine.TransitionRemove, statemachine.TransitionRemoveOK}
	recreate      = append(append([]statemachine.Transition{}, removeOnly...), pullStart...)
	stopRecreate  = append([]statemachine.Transition{statemachine.TransitionStop}, recreate...)
	stopAndRemove = append([]statemachine.Transition{statemachine.TransitionStop}, removeOnly...)
)

// plans maps action → current state → transition sequence. A state absent
// from an action's row is illegal for that action.
var plans = map[types.ActionKind]map[types.WorkloadState][]statemachine.Transition{
	types.ActionStart: {
		types.WorkloadStateInitial: pullStart,
		types.WorkloadStateDeleted: pullStart,
		types.WorkloadStateFailed:  pullStart,
		types.WorkloadStateCreated: {statemachine.TransitionStart},
		types.WorkloadStateExited:  recreate,
	},
	types.ActionStop: {
		types.WorkloadStateRunning: {statemachine.TransitionStop},
		types.WorkloadStatePaused:  {statemachine.TransitionStop},
	},
	types.ActionPause: {
		types.WorkloadStateRunning: {statemachine.TransitionPause},
	},
	types.ActionUnpause: {
		types.WorkloadStatePaused: {statemachine.TransitionUnpause},
	},
	types.ActionRestart: {
		types.WorkloadStateRunning: stopRecreate,
		types.WorkloadStateExited:  recreate,
	},
	types.ActionDelete: {
		types.WorkloadStateInitial: {},
		// stop only when the container may still be running
		types.WorkloadStateRunning: stopAndRemove,
		types.WorkloadStatePaused:  stopAndRemove,
		types.WorkloadStateExited:  removeOnly,
		types.WorkloadStateFailed:  removeOnly,
		types.WorkloadStateCreated: removeOnly,
		types.WorkloadStateDead:    removeOnly,
		types.WorkloadStatePulling: removeOnly,
	},
}

// Plan returns the transition sequence for action from state. An empty,
// non-nil plan means there is nothing to do.
func Plan(action types.ActionKind, state types.WorkloadState) ([]statemachine.Transition, error) {
	row, ok := plans[action]
	if !ok {
		return nil, &IllegalTransitionError{Action: action, State: state}
	}
	seq, ok := row[state]
	if !ok {
		return nil, &IllegalTransitionError{Action: action, State: state}
	}
	return append([]statemachine.Transition{}, seq...), nil
}
