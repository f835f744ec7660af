/*
Package dispatcher turns a lifecycle action into daemon calls.

Plan maps an action and the workload's current state to a fixed sequence
of state machine transitions, or rejects the pair with
*IllegalTransitionError:

	start    initial|deleted|failed  pull, start
	start    created                 start
	start    exited                  remove, remove-ok, pull, start
	stop     running|paused          stop
	pause    running                 pause
	unpause  paused                  unpause
	restart  running|exited          (stop,) remove, remove-ok, pull, start
	delete   most states             remove, remove-ok (stop first when running or paused)

Dispatch checks the cooldown first, then plans, and only then writes the
action lock, so a cooldown rejection wins over an illegal pair and an
illegal action leaves the lock untouched. Both happen before any daemon
call. Once the sequence starts it runs
to completion or to the first failing step; cancelling the caller's context
no longer interrupts it, only the per-call timeout does. Nothing is
retried here. The workload is mutated in place and the caller saves it.
*/
package dispatcher
