package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/statemachine"
	"github.com/cuemby/burrow/pkg/types"
)

// PathPrefixPlaceholder is replaced in env values with the workload's public path prefix
const PathPrefixPlaceholder = "%%PATH_PREFIX%%"

// DefaultCallTimeout applies when a workload has no timeout of its own
const DefaultCallTimeout = 60 * time.Second

// StepObserver is told about every step before and after it runs
type StepObserver interface {
	BeforeStep(workload *types.Workload, step statemachine.Transition)
	AfterStep(workload *types.Workload, step statemachine.Transition, err error)
}

// Config holds dispatcher settings
type Config struct {
	// BasePath is the proxy path under which workloads are published
	BasePath string
	// DefaultTimeout bounds each daemon call of workloads without a timeout
	DefaultTimeout time.Duration
}

// Dispatcher turns actions into daemon calls along the state machine
type Dispatcher struct {
	runtime  runtime.Runtime
	locks    *lock.Manager
	basePath string
	timeout  time.Duration
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// New creates a dispatcher
func New(rt runtime.Runtime, locks *lock.Manager, cfg Config) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultCallTimeout
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	return &Dispatcher{
		runtime:  rt,
		locks:    locks,
		basePath: cfg.BasePath,
		timeout:  cfg.DefaultTimeout,
		tracer:   otel.Tracer("github.com/cuemby/burrow/pkg/dispatcher"),
		logger:   log.WithComponent("dispatcher"),
	}
}

// Dispatch acquires the workload's action lock and runs the transition
// sequence for action, mutating workload in place. It stops at the first
// failing step and never retries; the caller persists the result. An
// illegal action is refused before the lock is written.
func (d *Dispatcher) Dispatch(ctx context.Context, workload *types.Workload, action *types.Action, obs StepObserver) error {
	if err := d.locks.Check(ctx, workload.ID); err != nil {
		return err
	}
	seq, err := Plan(action.Kind, workload.State)
	if err != nil {
		return err
	}
	if _, err := d.locks.Acquire(ctx, workload.ID, action.Kind); err != nil {
		return err
	}

	// once started a sequence runs to completion; only per-call timeouts apply
	ctx = context.WithoutCancel(ctx)

	m := statemachine.New(workload.State)
	for _, tr := range seq {
		if obs != nil {
			obs.BeforeStep(workload, tr)
		}
		err := d.step(ctx, m, workload, tr)
		workload.State = m.State()
		if obs != nil {
			obs.AfterStep(workload, tr, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) step(ctx context.Context, m *statemachine.Machine, w *types.Workload, tr statemachine.Transition) (err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher."+string(tr), trace.WithAttributes(
		attribute.String("workload.id", w.ID),
		attribute.String("workload.state", string(w.State)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, err := m.Check(tr); err != nil {
		return err
	}

	switch tr {
	case statemachine.TransitionPull:
		err = d.pull(ctx, w)
	case statemachine.TransitionStart:
		err = d.start(ctx, m, w)
	case statemachine.TransitionStop:
		err = d.containerCall(ctx, w, "stop", d.runtime.Stop)
	case statemachine.TransitionPause:
		err = d.containerCall(ctx, w, "pause", d.runtime.Pause)
	case statemachine.TransitionUnpause:
		err = d.containerCall(ctx, w, "unpause", d.runtime.Unpause)
	case statemachine.TransitionRemove:
		err = d.remove(ctx, w)
	case statemachine.TransitionRemoveOK:
		w.ContainerID = ""
		w.NetworkIP = ""
	}
	if err != nil {
		return err
	}

	_, err = m.Fire(tr)
	return err
}

func (d *Dispatcher) pull(ctx context.Context, w *types.Workload) error {
	repo, tag, err := runtime.SplitImage(w.Image)
	if err != nil {
		return err
	}
	ref := runtime.JoinImage(repo, tag)

	err = d.call(ctx, w, "pull", func(ctx context.Context) error {
		return d.runtime.Pull(ctx, repo, tag, func(p runtime.PullProgress) {
			d.logger.Debug().
				Str("workload_id", w.ID).
				Str("layer", p.ID).
				Str("progress", p.Progress).
				Msg(p.Status)
		})
	})
	if err != nil {
		return err
	}

	return d.call(ctx, w, "inspect-image", func(ctx context.Context) error {
		id, err := d.runtime.InspectImage(ctx, ref)
		if err != nil {
			return err
		}
		w.ImageID = id
		return nil
	})
}

func (d *Dispatcher) start(ctx context.Context, m *statemachine.Machine, w *types.Workload) error {
	if w.ContainerID == "" {
		repo, tag, err := runtime.SplitImage(w.Image)
		if err != nil {
			return err
		}
		err = d.call(ctx, w, "create", func(ctx context.Context) error {
			id, err := d.runtime.CreateContainer(ctx, d.containerSpec(w, runtime.JoinImage(repo, tag)))
			if err != nil {
				return err
			}
			w.ContainerID = id
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := d.containerCall(ctx, w, "start", d.runtime.Start); err != nil {
		// the container exists but never ran
		if m.Can(statemachine.TransitionStartFailed) {
			_, _ = m.Fire(statemachine.TransitionStartFailed)
		}
		return err
	}

	// the IP is informational; a failed inspect does not fail the start
	_ = d.call(ctx, w, "inspect", func(ctx context.Context) error {
		info, err := d.runtime.InspectContainer(ctx, w.ContainerID)
		if err != nil {
			return err
		}
		w.NetworkIP = info.NetworkIP
		return nil
	})
	return nil
}

func (d *Dispatcher) remove(ctx context.Context, w *types.Workload) error {
	if w.ContainerID == "" {
		// nothing was created yet or the daemon already lost it
		return nil
	}
	return d.containerCall(ctx, w, "remove", d.runtime.Remove)
}

func (d *Dispatcher) containerCall(ctx context.Context, w *types.Workload, op string, fn func(context.Context, string) error) error {
	if w.ContainerID == "" {
		return &runtime.Error{Op: op, Err: errors.New("workload has no container")}
	}
	id := w.ContainerID
	return d.call(ctx, w, op, func(ctx context.Context) error {
		return fn(ctx, id)
	})
}

// call runs one daemon call bounded by the workload's timeout
func (d *Dispatcher) call(ctx context.Context, w *types.Workload, op string, fn func(context.Context) error) error {
	timeout := d.timeout
	if w.Timeout > 0 {
		timeout = time.Duration(w.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := fn(ctx)
	timer.ObserveDurationVec(metrics.DaemonCallDuration, op)

	result := "ok"
	switch {
	case err == nil:
	case runtime.IsNotFound(err):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.DaemonCallsTotal.WithLabelValues(op, result).Inc()

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var rerr *runtime.Error
		if !errors.As(err, &rerr) {
			err = &runtime.Error{Op: op, ID: w.ContainerID, Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
		}
	}
	return err
}

func (d *Dispatcher) containerSpec(w *types.Workload, image string) runtime.ContainerSpec {
	prefix := d.PathPrefix(w.ID)
	env := make(map[string]string, len(w.Env))
	for k, v := range w.Env {
		env[k] = strings.ReplaceAll(v, PathPrefixPlaceholder, prefix)
	}
	return runtime.ContainerSpec{
		Name:    "burrow-" + w.ID,
		Image:   image,
		Env:     env,
		Command: w.Command,
		Port:    w.Port,
		Ulimits: w.Ulimits,
		Network: w.Network,
		Labels: map[string]string{
			"burrow.workload": w.ID,
			"burrow.tenant":   w.Tenant,
		},
	}
}

// PathPrefix returns the externally reachable path prefix of a workload
func (d *Dispatcher) PathPrefix(workloadID string) string {
	return strings.TrimRight(d.basePath, "/") + "/" + workloadID + "/"
}
