package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultGracePeriod is how long a divergence is tolerated before the last
// action is re-issued
const DefaultGracePeriod = 180 * time.Second

// ErrReconciliationExhausted is recorded when a workload keeps diverging
// after its retry budget was spent. It is never returned to a caller.
var ErrReconciliationExhausted = errors.New("reconciliation exhausted")

// Config holds reconciler settings
type Config struct {
	GracePeriod time.Duration
}

// Reconciler compares the outcome of each workload's last action with what
// the daemon reports and re-issues the action while the budget allows
type Reconciler struct {
	store  storage.Store
	rt     runtime.Runtime
	queue  queue.Queue
	leases *lock.Keyed
	events events.Publisher
	grace  time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewReconciler creates a new reconciler. pub may be nil.
func NewReconciler(store storage.Store, rt runtime.Runtime, q queue.Queue, leases *lock.Keyed, pub events.Publisher, cfg Config) *Reconciler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Reconciler{
		store:  store,
		rt:     rt,
		queue:  q,
		leases: leases,
		events: pub,
		grace:  cfg.GracePeriod,
		now:    time.Now,
		logger: log.WithComponent("reconciler"),
	}
}

// ExpectedState is the state a workload settles in once kind succeeded.
// The deleted state stands for "no container in the daemon".
func ExpectedState(kind types.ActionKind) (types.WorkloadState, bool) {
	switch kind {
	case types.ActionStart, types.ActionRestart, types.ActionUnpause:
		return types.WorkloadStateRunning, true
	case types.ActionStop:
		return types.WorkloadStateExited, true
	case types.ActionPause:
		return types.WorkloadStatePaused, true
	case types.ActionDelete:
		return types.WorkloadStateDeleted, true
	default:
		return "", false
	}
}

// Handle is the queue handler for reconcile jobs
func (r *Reconciler) Handle(ctx context.Context, _ queue.Job) error {
	return r.Reconcile(ctx)
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	workloads, err := r.store.ListWorkloads()
	if err != nil {
		return fmt.Errorf("failed to list workloads: %w", err)
	}

	for _, w := range workloads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.reconcileWorkload(ctx, w); err != nil {
			r.logger.Warn().Err(err).Str("workload_id", w.ID).Msg("failed to reconcile workload")
		}
	}
	return nil
}

func (r *Reconciler) reconcileWorkload(ctx context.Context, w *types.Workload) error {
	if w.LastActionID == "" || w.DateLastStatusUpdate == nil {
		return nil
	}

	// assess returns with the lease released; the executor waits for it
	next, err := r.assess(ctx, w)
	if err != nil || next == nil {
		return err
	}

	job := queue.Job{ID: next.action.ID, Kind: queue.KindAction, Payload: next.action.ID}
	if err := r.queue.Enqueue(ctx, job, 0); err != nil {
		return fmt.Errorf("failed to re-issue action: %w", err)
	}

	action := next.action
	metrics.ReconcileReissuedTotal.WithLabelValues(string(action.Kind)).Inc()
	msg := fmt.Sprintf("Reconciliation re-issued action %s (attempt %d of %d): observed %s, expected %s",
		action.Kind, action.Retries, w.MaxRetries, next.observed, next.expected)
	r.entry(w, types.LogLevelInfo, msg)
	r.publish(w, action, events.EventReconcileReissued, events.OutcomeOK, msg)
	r.logger.Info().
		Str("workload_id", w.ID).
		Str("action_id", action.ID).
		Int("retries", action.Retries).
		Msg("action re-issued")
	return nil
}

type reissue struct {
	action   *types.Action
	observed types.WorkloadState
	expected types.WorkloadState
}

// assess compares the workload with its last action under the workload's
// lease. It returns the action to re-issue, with the retry already recorded,
// or nil when nothing is to be queued.
func (r *Reconciler) assess(ctx context.Context, w *types.Workload) (*reissue, error) {
	// an executor run owns the workload until it finishes
	release, ok := r.leases.TryLock(w.ID)
	if !ok {
		return nil, nil
	}
	defer release()

	action, err := r.store.GetAction(w.LastActionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last action: %w", err)
	}
	expected, ok := ExpectedState(action.Kind)
	if !ok {
		return nil, nil
	}

	observed, known := r.observe(ctx, w)
	if !known {
		return nil, nil
	}

	if observed == expected {
		if action.Retries != 0 || action.Exhausted {
			action.Retries = 0
			action.Exhausted = false
			if err := r.store.UpdateAction(action); err != nil {
				return nil, fmt.Errorf("failed to reset retries: %w", err)
			}
			r.logger.Info().Str("workload_id", w.ID).Str("state", string(observed)).Msg("workload converged")
		}
		return nil, nil
	}

	if r.now().Sub(*w.DateLastStatusUpdate) < r.grace {
		return nil, nil
	}

	if action.Retries >= w.MaxRetries {
		return nil, r.exhausted(w, action, observed, expected)
	}

	r.syncState(w, observed)

	action.Retries++
	if err := r.store.UpdateAction(action); err != nil {
		return nil, fmt.Errorf("failed to record retry: %w", err)
	}
	return &reissue{action: action, observed: observed, expected: expected}, nil
}

// exhausted reports a spent budget once and leaves the divergence standing
func (r *Reconciler) exhausted(w *types.Workload, action *types.Action, observed, expected types.WorkloadState) error {
	if action.Exhausted {
		return nil
	}
	action.Exhausted = true
	if err := r.store.UpdateAction(action); err != nil {
		return fmt.Errorf("failed to record exhausted budget: %w", err)
	}

	metrics.ReconcileExhaustedTotal.Inc()
	msg := fmt.Sprintf("%s: action %s still diverges after %d retries (observed %s, expected %s)",
		ErrReconciliationExhausted, action.Kind, action.Retries, observed, expected)
	r.entry(w, types.LogLevelWarning, msg)
	r.publish(w, action, events.EventReconcileExhausted, events.OutcomeFailed, msg)
	r.logger.Warn().
		Err(ErrReconciliationExhausted).
		Str("workload_id", w.ID).
		Str("action_id", action.ID).
		Msg("retry budget exhausted")
	return nil
}

// observe asks the daemon for the workload's state. A workload without a
// container, or whose container vanished, is observed as deleted. Any other
// inspect failure leaves the state unknown.
func (r *Reconciler) observe(ctx context.Context, w *types.Workload) (types.WorkloadState, bool) {
	if w.ContainerID == "" {
		return types.WorkloadStateDeleted, true
	}
	info, err := r.rt.InspectContainer(ctx, w.ContainerID)
	if runtime.IsNotFound(err) {
		return types.WorkloadStateDeleted, true
	}
	if err != nil {
		r.logger.Debug().Err(err).Str("workload_id", w.ID).Msg("inspect failed, state unknown")
		return "", false
	}
	return info.WorkloadState()
}

// syncState records the observed state so the re-issued action is planned
// from where the container really is
func (r *Reconciler) syncState(w *types.Workload, observed types.WorkloadState) {
	if observed == w.State || observed == types.WorkloadStateDeleted {
		return
	}
	prev := w.State
	w.State = observed
	if err := r.store.UpdateWorkload(w); err != nil {
		w.State = prev
		r.logger.Debug().Err(err).Str("workload_id", w.ID).Msg("state not synced")
	}
}

func (r *Reconciler) entry(w *types.Workload, level types.LogLevel, msg string) {
	err := r.store.AppendLogs(&types.LogEntry{
		WorkloadID:  w.ID,
		ContainerID: w.ContainerID,
		Source:      types.LogSourceTask,
		Level:       level,
		Message:     msg,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		r.logger.Error().Err(err).Str("workload_id", w.ID).Msg("failed to append log entry")
	}
}

func (r *Reconciler) publish(w *types.Workload, action *types.Action, typ events.EventType, outcome events.Outcome, msg string) {
	if r.events == nil {
		return
	}
	r.events.Publish(&events.Event{
		Type:       typ,
		Outcome:    outcome,
		WorkloadID: w.ID,
		Tenant:     w.Tenant,
		ActionID:   action.ID,
		Message:    msg,
	})
}
