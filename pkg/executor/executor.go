package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuemby/burrow/pkg/dispatcher"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/statemachine"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultLeaseWait bounds how long a run waits for another holder of the
// workload's lease before it is rejected as busy
const DefaultLeaseWait = 30 * time.Second

// Executor runs actions. It is safe for concurrent use; runs on the same
// workload are serialized by the action lock.
type Executor struct {
	store      storage.Store
	dispatcher *dispatcher.Dispatcher
	leases     *lock.Keyed
	leaseWait  time.Duration
	events     events.Publisher
	tracer     trace.Tracer
	runs       metric.Int64Counter
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates an executor. pub may be nil.
func New(store storage.Store, d *dispatcher.Dispatcher, leases *lock.Keyed, pub events.Publisher) *Executor {
	e := &Executor{
		store:      store,
		dispatcher: d,
		leases:     leases,
		leaseWait:  DefaultLeaseWait,
		events:     pub,
		tracer:     otel.Tracer("github.com/cuemby/burrow/pkg/executor"),
		logger:     log.WithComponent("executor"),
		now:        time.Now,
	}
	runs, err := otel.Meter("github.com/cuemby/burrow/pkg/executor").Int64Counter("burrow.executor.runs",
		metric.WithDescription("Executor runs by action and result"))
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to create run counter")
	}
	e.runs = runs
	return e
}

// SetLeaseWait changes how long Run waits for a busy workload
func (e *Executor) SetLeaseWait(d time.Duration) {
	if d <= 0 {
		d = DefaultLeaseWait
	}
	e.leaseWait = d
}

// Run executes the action with the given ID. Daemon and unexpected failures
// are contained: the workload is marked failed and nil is returned. Only
// lock contention, illegal transitions and lock inconsistencies are returned
// to the caller, with the workload left untouched.
func (e *Executor) Run(ctx context.Context, actionID string) (err error) {
	action, err := e.store.GetAction(actionID)
	if err != nil {
		return fmt.Errorf("failed to load action: %w", err)
	}

	ctx, span := e.tracer.Start(ctx, "executor.Run", trace.WithAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.kind", string(action.Kind)),
		attribute.String("workload.id", action.WorkloadID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Observers hold the lease only briefly, so wait them out
	waitCtx, cancel := context.WithTimeout(ctx, e.leaseWait)
	release, lerr := e.leases.Lock(waitCtx, action.WorkloadID)
	cancel()
	if lerr != nil {
		metrics.LockRejectionsTotal.WithLabelValues("busy").Inc()
		busy := &lock.CoolDownError{WorkloadID: action.WorkloadID, Busy: true}
		e.reject(action, nil, busy)
		return busy
	}
	defer release()

	workload, err := e.store.GetWorkload(action.WorkloadID)
	if err != nil {
		return fmt.Errorf("failed to load workload: %w", err)
	}

	g := e.begin(action, workload)
	defer func() {
		if r := recover(); r != nil {
			err = g.finish(fmt.Errorf("panic: %v", r))
			return
		}
		err = g.finish(err)
	}()

	return e.dispatcher.Dispatch(ctx, workload, action, g)
}

// guard brackets one run: begin writes the start mark, finish writes exactly
// one success or failure mark and persists the outcome.
type guard struct {
	e        *Executor
	action   *types.Action
	workload *types.Workload
	original types.Workload
	timer    *metrics.Timer
	logger   zerolog.Logger
	done     bool
}

func (e *Executor) begin(action *types.Action, workload *types.Workload) *guard {
	g := &guard{
		e:        e,
		action:   action,
		workload: workload,
		original: *workload,
		timer:    metrics.NewTimer(),
		logger: log.WithWorkloadID(workload.ID).With().
			Str("component", "executor").
			Str("action_id", action.ID).
			Str("action", string(action.Kind)).
			Logger(),
	}
	g.logger.Info().Str("state", string(workload.State)).Msg("action started")
	g.entry(types.LogSourceTask, types.LogLevelInfo, fmt.Sprintf("Action %s started (state %s)", action.Kind, workload.State))
	return g
}

func (g *guard) finish(runErr error) error {
	if g.done {
		return runErr
	}
	g.done = true

	w := g.workload
	kind := g.action.Kind
	defer g.timer.ObserveDurationVec(metrics.ActionDuration, string(kind))

	var rerr *runtime.Error
	switch {
	case runErr == nil:
		now := g.e.now().UTC()
		w.LastActionID = g.action.ID
		w.DateLastStatusUpdate = &now
		g.save(false)
		g.entry(types.LogSourceTask, types.LogLevelInfo, fmt.Sprintf("Action %s succeeded", kind))
		g.logger.Info().Str("state", string(w.State)).Dur("duration", g.timer.Duration()).Msg("action succeeded")
		g.complete("succeeded")
		return nil

	case errors.Is(runErr, lock.ErrCoolDown):
		g.e.reject(g.action, w, runErr)
		return runErr

	case errors.Is(runErr, dispatcher.ErrIllegalTransition), errors.Is(runErr, lock.ErrLockInconsistent):
		g.restore()
		g.entry(types.LogSourceTask, types.LogLevelError, fmt.Sprintf("Action %s rejected: %v", kind, runErr))
		g.logger.Error().Err(runErr).Msg("action rejected")
		metrics.ActionsTotal.WithLabelValues(string(kind), "rejected").Inc()
		g.publish(events.EventActionRejected, events.OutcomeFailed, runErr.Error())
		return runErr

	case runtime.IsNotFound(runErr):
		w.ContainerID = ""
		w.ImageID = ""
		w.NetworkIP = ""
		g.markFailed(false)
		g.entry(types.LogSourceTask, types.LogLevelError,
			fmt.Sprintf("Action %s failed: container no longer exists in the runtime: %v", kind, runErr))
		g.logger.Warn().Err(runErr).Msg("container vanished during action")

	case errors.As(runErr, &rerr):
		g.markFailed(true)
		g.entry(types.LogSourceTask, types.LogLevelError, fmt.Sprintf("Action %s failed: %v", kind, runErr))
		g.logger.Error().Err(runErr).Msg("runtime error during action")

	default:
		g.markFailed(false)
		g.entry(types.LogSourceTask, types.LogLevelError, fmt.Sprintf("Action %s failed", kind))
		g.logger.Error().Err(runErr).Msg("action failed")
	}

	g.complete("failed")
	return nil
}

// restore drops in-memory changes made before the run was rejected
func (g *guard) restore() {
	*g.workload = g.original
}

func (g *guard) markFailed(force bool) {
	now := g.e.now().UTC()
	g.workload.State = types.WorkloadStateFailed
	g.workload.LastActionID = g.action.ID
	g.workload.DateLastStatusUpdate = &now
	g.save(force)
}

// save persists the workload. An optimistic conflict means a poller wrote
// an observation while this run held the lease; the run's fields win.
func (g *guard) save(force bool) {
	w := g.workload
	if force {
		if err := g.e.store.ForceUpdateWorkload(w); err != nil {
			g.logger.Error().Err(err).Msg("failed to save workload")
		}
		return
	}

	err := g.e.store.UpdateWorkload(w)
	if !errors.Is(err, storage.ErrConflict) {
		if err != nil {
			g.logger.Error().Err(err).Msg("failed to save workload")
		}
		return
	}

	latest, gerr := g.e.store.GetWorkload(w.ID)
	if gerr != nil {
		g.logger.Error().Err(gerr).Msg("failed to reload workload after conflict")
		return
	}
	latest.State = w.State
	latest.ContainerID = w.ContainerID
	latest.ImageID = w.ImageID
	latest.NetworkIP = w.NetworkIP
	latest.LastActionID = w.LastActionID
	latest.DateLastStatusUpdate = w.DateLastStatusUpdate
	if err := g.e.store.ForceUpdateWorkload(latest); err != nil {
		g.logger.Error().Err(err).Msg("failed to save workload")
		return
	}
	g.logger.Warn().Msg("workload changed during action, merged")
	*w = *latest
}

func (g *guard) complete(result string) {
	metrics.ActionsTotal.WithLabelValues(string(g.action.Kind), result).Inc()
	if g.e.runs != nil {
		g.e.runs.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("action", string(g.action.Kind)),
			attribute.String("result", result),
		))
	}

	outcome := events.OutcomeOK
	typ := events.EventActionSucceeded
	if g.workload.State == types.WorkloadStateFailed {
		outcome = events.OutcomeFailed
		typ = events.EventActionFailed
	}
	g.publish(typ, outcome, fmt.Sprintf("Action %s %s, workload %s", g.action.Kind, result, g.workload.State))
}

func (g *guard) publish(typ events.EventType, outcome events.Outcome, msg string) {
	if g.e.events == nil {
		return
	}
	g.e.events.Publish(&events.Event{
		Type:       typ,
		Outcome:    outcome,
		WorkloadID: g.workload.ID,
		Tenant:     g.workload.Tenant,
		ActionID:   g.action.ID,
		Message:    msg,
	})
}

func (g *guard) entry(source types.LogSource, level types.LogLevel, msg string) {
	g.e.appendEntry(g.workload.ID, g.workload.ContainerID, source, level, msg)
}

// BeforeStep implements dispatcher.StepObserver
func (g *guard) BeforeStep(w *types.Workload, step statemachine.Transition) {
	if msg := describe(step, w, false); msg != "" {
		g.entry(types.LogSourceAction, types.LogLevelInfo, msg)
	}
}

// AfterStep implements dispatcher.StepObserver
func (g *guard) AfterStep(w *types.Workload, step statemachine.Transition, err error) {
	if err != nil {
		g.entry(types.LogSourceAction, types.LogLevelError, fmt.Sprintf("Step %s failed: %v", step, err))
		return
	}
	if msg := describe(step, w, true); msg != "" {
		g.entry(types.LogSourceAction, types.LogLevelInfo, msg)
	}
}

func describe(step statemachine.Transition, w *types.Workload, done bool) string {
	c := w.ContainerID
	switch step {
	case statemachine.TransitionPull:
		if done {
			return fmt.Sprintf("Image %s pulled", w.Image)
		}
		return fmt.Sprintf("Pulling image %s", w.Image)
	case statemachine.TransitionStart:
		if done {
			return fmt.Sprintf("Container %s started", c)
		}
		return "Starting container"
	case statemachine.TransitionStop:
		if done {
			return fmt.Sprintf("Container %s stopped", c)
		}
		return fmt.Sprintf("Stopping container %s", c)
	case statemachine.TransitionPause:
		if done {
			return fmt.Sprintf("Container %s paused", c)
		}
		return fmt.Sprintf("Pausing container %s", c)
	case statemachine.TransitionUnpause:
		if done {
			return fmt.Sprintf("Container %s unpaused", c)
		}
		return fmt.Sprintf("Unpausing container %s", c)
	case statemachine.TransitionRemove:
		if done {
			return "Container removed"
		}
		return fmt.Sprintf("Removing container %s", c)
	case statemachine.TransitionRemoveOK:
		if done {
			return "Workload deleted"
		}
		return ""
	default:
		return ""
	}
}

// reject records a cooldown rejection without touching the workload
func (e *Executor) reject(action *types.Action, workload *types.Workload, err error) {
	containerID, tenant := "", ""
	if workload != nil {
		containerID, tenant = workload.ContainerID, workload.Tenant
	}
	e.appendEntry(action.WorkloadID, containerID, types.LogSourceTask, types.LogLevelWarning,
		fmt.Sprintf("Action %s skipped: %v", action.Kind, err))
	l := log.WithActionID(action.ID)
	l.Warn().Err(err).
		Str("component", "executor").
		Str("workload_id", action.WorkloadID).
		Str("action", string(action.Kind)).
		Msg("action rejected")
	metrics.ActionsTotal.WithLabelValues(string(action.Kind), "rejected").Inc()
	if e.events != nil {
		e.events.Publish(&events.Event{
			Type:       events.EventActionRejected,
			Outcome:    events.OutcomeFailed,
			WorkloadID: action.WorkloadID,
			Tenant:     tenant,
			ActionID:   action.ID,
			Message:    err.Error(),
		})
	}
}

func (e *Executor) appendEntry(workloadID, containerID string, source types.LogSource, level types.LogLevel, msg string) {
	err := e.store.AppendLogs(&types.LogEntry{
		WorkloadID:  workloadID,
		ContainerID: containerID,
		Source:      source,
		Level:       level,
		Message:     msg,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("workload_id", workloadID).Msg("failed to append log entry")
	}
}
