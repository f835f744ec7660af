package storage

import (
	"errors"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by UpdateWorkload when the stored version moved on
	ErrConflict = errors.New("version conflict")
	// ErrExists is returned when creating a record whose ID is taken
	ErrExists = errors.New("already exists")
)

// LockUpdateFunc receives every lock row of a workload inside a read-write
// transaction and returns the row to persist, or nil to write nothing.
// Returning an error aborts the transaction.
type LockUpdateFunc func(locks []*types.ActionLock) (*types.ActionLock, error)

// Store defines the interface for durable burrow state
type Store interface {
	// Workloads
	CreateWorkload(workload *types.Workload) error
	GetWorkload(id string) (*types.Workload, error)
	ListWorkloads() ([]*types.Workload, error)
	ListWorkloadsByTenant(tenant string) ([]*types.Workload, error)
	// UpdateWorkload saves workload if its Version matches the stored one
	// and bumps Version on success; otherwise it returns ErrConflict.
	UpdateWorkload(workload *types.Workload) error
	// ForceUpdateWorkload saves workload regardless of the stored version
	ForceUpdateWorkload(workload *types.Workload) error
	// DeleteWorkload removes a workload with its actions, locks and logs
	DeleteWorkload(id string) error

	// Actions
	CreateAction(action *types.Action) error
	GetAction(id string) (*types.Action, error)
	ListActionsByWorkload(workloadID string) ([]*types.Action, error)
	UpdateAction(action *types.Action) error

	// Action locks
	ListLocksByWorkload(workloadID string) ([]*types.ActionLock, error)
	UpdateLock(workloadID string, fn LockUpdateFunc) error

	// Log entries
	AppendLogs(entries ...*types.LogEntry) error
	ListLogs(workloadID string) ([]*types.LogEntry, error)
	// LatestRuntimeTimestamp returns the newest runtime timestamp stored for
	// a container of the workload, or nil when none was stored yet.
	LatestRuntimeTimestamp(workloadID, containerID string) (*time.Time, error)

	// Utility
	Close() error
}
