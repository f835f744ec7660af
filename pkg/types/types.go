package types

import (
	"time"
)

// Workload represents a managed container instance and its declarative configuration
type Workload struct {
	ID      string
	Name    string
	Tenant  string
	Image   string // repository[:tag]
	Port    int    // Port the container listens on
	Path    string // Runtime path served behind the proxy
	Env     map[string]string
	Command []string
	Ulimits []*Ulimit
	Network string // Daemon network to attach to (empty = daemon default)

	State       WorkloadState
	ContainerID string // Daemon-assigned, empty until created
	ImageID     string // Daemon-assigned, empty until pulled
	NetworkIP   string

	Timeout    int // Seconds allowed per daemon call
	MaxRetries int

	LastActionID         string
	DateLastStatusUpdate *time.Time

	// Version is bumped on every save and checked by optimistic updates
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ulimit is a resource limit applied to the container
type Ulimit struct {
	Name string
	Soft int64
	Hard int64
}

// WorkloadState represents the lifecycle state of a workload
type WorkloadState string

const (
	WorkloadStateInitial  WorkloadState = "initial"
	WorkloadStatePulling  WorkloadState = "pulling"
	WorkloadStateCreated  WorkloadState = "created"
	WorkloadStateRunning  WorkloadState = "running"
	WorkloadStatePaused   WorkloadState = "paused"
	WorkloadStateExited   WorkloadState = "exited"
	WorkloadStateDead     WorkloadState = "dead"
	WorkloadStateDeleting WorkloadState = "deleting"
	WorkloadStateDeleted  WorkloadState = "deleted"
	WorkloadStateFailed   WorkloadState = "failed"
)

// AllWorkloadStates lists every state in declaration order
var AllWorkloadStates = []WorkloadState{
	WorkloadStateInitial,
	WorkloadStatePulling,
	WorkloadStateCreated,
	WorkloadStateRunning,
	WorkloadStatePaused,
	WorkloadStateExited,
	WorkloadStateDead,
	WorkloadStateDeleting,
	WorkloadStateDeleted,
	WorkloadStateFailed,
}

// Valid reports whether s is a known workload state
func (s WorkloadState) Valid() bool {
	for _, known := range AllWorkloadStates {
		if s == known {
			return true
		}
	}
	return false
}

// Action represents a user- or system-requested lifecycle operation on a workload
type Action struct {
	ID         string
	WorkloadID string
	Kind       ActionKind
	Retries    int  // Reconciliation re-issues so far
	Exhausted  bool // Set once the retry budget was hit and reported
	CreatedAt  time.Time
}

// ActionKind is the high-level operation requested
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionPause   ActionKind = "pause"
	ActionUnpause ActionKind = "unpause"
	ActionRestart ActionKind = "restart"
	ActionDelete  ActionKind = "delete"
)

// AllActionKinds lists every action kind
var AllActionKinds = []ActionKind{
	ActionStart,
	ActionStop,
	ActionPause,
	ActionUnpause,
	ActionRestart,
	ActionDelete,
}

// Valid reports whether k is a known action kind
func (k ActionKind) Valid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActionLock is the per-workload mutual exclusion and cooldown record
type ActionLock struct {
	ID             string
	WorkloadID     string
	Action         ActionKind
	LastActionTime time.Time
}

// LogEntry is one immutable line of a workload's history
type LogEntry struct {
	ID               string
	WorkloadID       string
	ContainerID      string
	Source           LogSource
	Level            LogLevel
	Message          string
	RuntimeTimestamp *time.Time // Set for lines read from the daemon
	CreatedAt        time.Time
}

// Timestamp returns the runtime timestamp when present, else the creation time
func (e *LogEntry) Timestamp() time.Time {
	if e.RuntimeTimestamp != nil {
		return *e.RuntimeTimestamp
	}
	return e.CreatedAt
}

// LogSource tags where a log entry originated
type LogSource string

const (
	LogSourceObject  LogSource = "object"
	LogSourceTask    LogSource = "task"
	LogSourceProxy   LogSource = "proxy"
	LogSourceRuntime LogSource = "runtime"
	LogSourceAction  LogSource = "action"
)

// LogLevel is the severity of a log entry
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)
