package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultCooldown is the minimum time between two acquisitions on one workload
const DefaultCooldown = 5 * time.Second

var (
	// ErrCoolDown is returned when a workload was locked too recently or is busy
	ErrCoolDown = errors.New("action lock cooling down")
	// ErrLockInconsistent is returned when a workload has more than one lock row
	ErrLockInconsistent = errors.New("action lock inconsistent")
)

// CoolDownError carries the wait left before the workload can be locked again
type CoolDownError struct {
	WorkloadID string
	Remaining  time.Duration
	Busy       bool // another run holds the in-process lease
}

func (e *CoolDownError) Error() string {
	if e.Busy {
		return fmt.Sprintf("workload %s is busy with another action", e.WorkloadID)
	}
	return fmt.Sprintf("workload %s locked, retry in %s", e.WorkloadID, e.Remaining.Round(time.Millisecond))
}

func (e *CoolDownError) Is(target error) bool {
	return target == ErrCoolDown
}

// Manager acquires persisted per-workload action locks
type Manager struct {
	store    storage.Store
	cooldown time.Duration
	now      func() time.Time
}

// NewManager creates a lock manager; a non-positive cooldown uses DefaultCooldown
func NewManager(store storage.Store, cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{store: store, cooldown: cooldown, now: time.Now}
}

// Cooldown returns the configured cooldown
func (m *Manager) Cooldown() time.Duration {
	return m.cooldown
}

// Check reports whether Acquire would currently be refused, without
// writing anything
func (m *Manager) Check(ctx context.Context, workloadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locks, err := m.store.ListLocksByWorkload(workloadID)
	if err != nil {
		return fmt.Errorf("failed to read action lock: %w", err)
	}
	return m.check(workloadID, locks, m.now())
}

// Acquire creates the workload's lock or re-locks it for action
func (m *Manager) Acquire(ctx context.Context, workloadID string, action types.ActionKind) (*types.ActionLock, error) {
	if err := m.Check(ctx, workloadID); err != nil {
		return nil, err
	}

	var acquired *types.ActionLock
	err := m.store.UpdateLock(workloadID, func(locks []*types.ActionLock) (*types.ActionLock, error) {
		now := m.now()
		if err := m.check(workloadID, locks, now); err != nil {
			return nil, err
		}
		next := &types.ActionLock{WorkloadID: workloadID}
		if len(locks) == 1 {
			next = locks[0]
		}
		next.Action = action
		next.LastActionTime = now.UTC()
		acquired = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (m *Manager) check(workloadID string, locks []*types.ActionLock, now time.Time) error {
	switch len(locks) {
	case 0:
		return nil
	case 1:
		until := locks[0].LastActionTime.Add(m.cooldown)
		if now.Before(until) {
			metrics.LockRejectionsTotal.WithLabelValues("cooldown").Inc()
			return &CoolDownError{WorkloadID: workloadID, Remaining: until.Sub(now)}
		}
		return nil
	default:
		metrics.LockRejectionsTotal.WithLabelValues("inconsistent").Inc()
		return fmt.Errorf("%w: workload %s has %d lock records", ErrLockInconsistent, workloadID, len(locks))
	}
}

// Keyed is an in-process set of per-key leases
type Keyed struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewKeyed returns an empty lease set
func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]chan struct{})}
}

// TryLock takes the lease for key if it is free. The returned release
// func is safe to call more than once.
func (k *Keyed) TryLock(key string) (release func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return nil, false
	}
	return k.take(key), true
}

// Lock waits for the lease on key until ctx is done
func (k *Keyed) Lock(ctx context.Context, key string) (release func(), err error) {
	for {
		k.mu.Lock()
		freed, busy := k.held[key]
		if !busy {
			release = k.take(key)
			k.mu.Unlock()
			return release, nil
		}
		k.mu.Unlock()

		select {
		case <-freed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take must be called with k.mu held
func (k *Keyed) take(key string) func() {
	freed := make(chan struct{})
	k.held[key] = freed

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
			close(freed)
		})
	}
}

// Held reports whether key is currently leased
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}
