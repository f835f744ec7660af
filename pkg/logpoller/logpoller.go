package logpoller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Config holds poller settings
type Config struct {
	// RateLimit caps daemon calls per second; zero disables the limit
	RateLimit float64
	Burst     int
}

// Poller pulls container state and logs into the store
type Poller struct {
	store   storage.Store
	rt      runtime.Runtime
	leases  *lock.Keyed
	events  events.Publisher
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a poller. pub may be nil.
func New(store storage.Store, rt runtime.Runtime, leases *lock.Keyed, pub events.Publisher, cfg Config) *Poller {
	p := &Poller{
		store:  store,
		rt:     rt,
		leases: leases,
		events: pub,
		now:    time.Now,
		logger: log.WithComponent("logpoller"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// Handle is the queue handler for poll-logs jobs
func (p *Poller) Handle(ctx context.Context, _ queue.Job) error {
	return p.Poll(ctx)
}

// Poll runs one pass over every workload that has a container
func (p *Poller) Poll(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LogPollDuration)

	workloads, err := p.store.ListWorkloads()
	if err != nil {
		return fmt.Errorf("failed to list workloads: %w", err)
	}

	for _, w := range workloads {
		if w.ContainerID == "" {
			continue
		}
		if err := p.pollWorkload(ctx, w); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn().Err(err).Str("workload_id", w.ID).Msg("failed to poll workload")
		}
	}
	return nil
}

func (p *Poller) pollWorkload(ctx context.Context, w *types.Workload) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if observed, err := p.inspect(ctx, w); err != nil || !observed {
		return err
	}

	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.collect(ctx, w)
}

// inspect records the container's state. The lease is held only for the
// inspect and its write; a workload under an action is skipped.
func (p *Poller) inspect(ctx context.Context, w *types.Workload) (bool, error) {
	release, ok := p.leases.TryLock(w.ID)
	if !ok {
		return false, nil
	}
	defer release()

	info, err := p.rt.InspectContainer(ctx, w.ContainerID)
	if runtime.IsNotFound(err) {
		p.vanished(w, err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	p.observe(w, info)
	return true, nil
}

func (p *Poller) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// observe records a state reported by the daemon that differs from the
// stored one. A concurrent write wins; the next poll observes again.
func (p *Poller) observe(w *types.Workload, info runtime.ContainerInfo) {
	state, ok := info.WorkloadState()
	if !ok || state == w.State {
		return
	}

	prev := w.State
	now := p.now().UTC()
	w.State = state
	w.DateLastStatusUpdate = &now
	if info.NetworkIP != "" {
		w.NetworkIP = info.NetworkIP
	}
	if !p.save(w) {
		return
	}

	msg := fmt.Sprintf("State changed from %s to %s", prev, state)
	p.entry(w, w.ContainerID, types.LogLevelInfo, msg)
	p.publish(w, events.EventWorkloadStateChanged, events.OutcomeOK, msg)
	p.logger.Info().
		Str("workload_id", w.ID).
		Str("from", string(prev)).
		Str("to", string(state)).
		Msg("observed state change")
}

// vanished handles a container the daemon no longer knows
func (p *Poller) vanished(w *types.Workload, cause error) {
	containerID := w.ContainerID
	now := p.now().UTC()
	w.ContainerID = ""
	w.ImageID = ""
	w.NetworkIP = ""
	w.State = types.WorkloadStateFailed
	w.DateLastStatusUpdate = &now
	if !p.save(w) {
		return
	}

	msg := fmt.Sprintf("Container %s no longer exists in the runtime: %v", containerID, cause)
	p.entry(w, containerID, types.LogLevelError, msg)
	p.publish(w, events.EventWorkloadVanished, events.OutcomeFailed, msg)
	p.logger.Warn().Str("workload_id", w.ID).Str("container_id", containerID).Msg("container vanished")
}

func (p *Poller) save(w *types.Workload) bool {
	err := p.store.UpdateWorkload(w)
	if errors.Is(err, storage.ErrConflict) {
		p.logger.Debug().Str("workload_id", w.ID).Msg("workload changed during poll, observation dropped")
		return false
	}
	if err != nil {
		p.logger.Error().Err(err).Str("workload_id", w.ID).Msg("failed to save workload")
		return false
	}
	return true
}

type lineKey struct {
	container string
	ts        time.Time
	text      string
}

// collect fetches and stores the lines the store has not seen yet
func (p *Poller) collect(ctx context.Context, w *types.Workload) error {
	cid := w.ContainerID
	last, err := p.store.LatestRuntimeTimestamp(w.ID, cid)
	if err != nil {
		return fmt.Errorf("failed to read log watermark: %w", err)
	}

	var since time.Time
	if last != nil {
		since = last.Truncate(time.Second)
	}
	lines, err := p.rt.FetchLogs(ctx, cid, since)
	if runtime.IsNotFound(err) {
		if release, ok := p.leases.TryLock(w.ID); ok {
			p.vanished(w, err)
			release()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch logs: %w", err)
	}

	now := p.now().UTC()
	seen := make(map[lineKey]struct{}, len(lines))
	var fresh, warnings []*types.LogEntry
	for _, line := range lines {
		ts, text, err := runtime.ParseLogLine(line)
		if err != nil {
			metrics.LogLinesTotal.WithLabelValues("unparsable").Inc()
			warnings = append(warnings, &types.LogEntry{
				WorkloadID:  w.ID,
				ContainerID: cid,
				Source:      types.LogSourceRuntime,
				Level:       types.LogLevelWarning,
				Message:     fmt.Sprintf("Unparsable log line: %q", line),
				CreatedAt:   now,
			})
			continue
		}
		if last != nil && !ts.After(*last) {
			metrics.LogLinesTotal.WithLabelValues("stale").Inc()
			continue
		}
		key := lineKey{container: cid, ts: ts, text: text}
		if _, dup := seen[key]; dup {
			metrics.LogLinesTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[key] = struct{}{}

		stamp := ts
		fresh = append(fresh, &types.LogEntry{
			WorkloadID:       w.ID,
			ContainerID:      cid,
			Source:           types.LogSourceRuntime,
			Level:            types.LogLevelInfo,
			Message:          text,
			RuntimeTimestamp: &stamp,
			CreatedAt:        now,
		})
	}
	if len(fresh) == 0 && len(warnings) == 0 {
		return nil
	}

	// daemon order, kept stable where stdout and stderr interleave
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].RuntimeTimestamp.Before(*fresh[j].RuntimeTimestamp)
	})
	if err := p.store.AppendLogs(append(fresh, warnings...)...); err != nil {
		return fmt.Errorf("failed to append logs: %w", err)
	}
	metrics.LogLinesTotal.WithLabelValues("stored").Add(float64(len(fresh)))
	p.logger.Debug().Str("workload_id", w.ID).Int("lines", len(fresh)).Msg("logs collected")
	return nil
}

func (p *Poller) entry(w *types.Workload, containerID string, level types.LogLevel, msg string) {
	err := p.store.AppendLogs(&types.LogEntry{
		WorkloadID:  w.ID,
		ContainerID: containerID,
		Source:      types.LogSourceObject,
		Level:       level,
		Message:     msg,
		CreatedAt:   p.now().UTC(),
	})
	if err != nil {
		p.logger.Error().Err(err).Str("workload_id", w.ID).Msg("failed to append log entry")
	}
}

func (p *Poller) publish(w *types.Workload, typ events.EventType, outcome events.Outcome, msg string) {
	if p.events == nil {
		return
	}
	p.events.Publish(&events.Event{
		Type:       typ,
		Outcome:    outcome,
		WorkloadID: w.ID,
		Tenant:     w.Tenant,
		ActionID:   w.LastActionID,
		Message:    msg,
	})
}
