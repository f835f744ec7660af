package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when the daemon no longer knows the container or image
var ErrNotFound = errors.New("not found in runtime")

// Error wraps a failed daemon call with the operation and target it was issued for
type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("runtime %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("runtime %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the daemon lost track of the target
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Runtime is the narrow boundary to the container daemon. Implementations
// must be safe for concurrent use and hold no business logic.
type Runtime interface {
	// Pull fetches repository:tag. progress may be nil.
	Pull(ctx context.Context, repository, tag string, progress func(PullProgress)) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Pause(ctx context.Context, containerID string) error
	Unpause(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	// InspectContainer fails with ErrNotFound when the container vanished
	InspectContainer(ctx context.Context, containerID string) (ContainerInfo, error)
	InspectImage(ctx context.Context, ref string) (string, error)
	// FetchLogs returns timestamp-prefixed lines emitted at or after since.
	// A zero since returns the whole log.
	FetchLogs(ctx context.Context, containerID string, since time.Time) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// PullProgress is one event of an image pull stream
type PullProgress struct {
	ID       string
	Status   string
	Progress string
}

// ContainerSpec describes a container to create
type ContainerSpec struct {
	Name    string
	Image   string
	Env     map[string]string
	Command []string
	Port    int
	Ulimits []*types.Ulimit
	Network string
	Labels  map[string]string
}

// ContainerInfo is the observed daemon state of one container
type ContainerInfo struct {
	ID        string
	Status    string // daemon status string: created, running, paused, ...
	NetworkIP string
	ImageID   string
}

// WorkloadState maps the daemon status onto a workload state. The second
// result is false for statuses with no workload equivalent.
func (i ContainerInfo) WorkloadState() (types.WorkloadState, bool) {
	return MapState(i.Status)
}

// MapState maps a daemon container status onto a workload state
func MapState(status string) (types.WorkloadState, bool) {
	switch strings.ToLower(status) {
	case "created":
		return types.WorkloadStateCreated, true
	case "running", "restarting":
		return types.WorkloadStateRunning, true
	case "paused":
		return types.WorkloadStatePaused, true
	case "exited":
		return types.WorkloadStateExited, true
	case "dead":
		return types.WorkloadStateDead, true
	case "removing":
		return types.WorkloadStateDeleting, true
	default:
		return "", false
	}
}

// LogTimestampLayout is the fixed-width timestamp the daemon prefixes to log lines
const LogTimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ParseLogLine splits a daemon log line into its timestamp and text
func ParseLogLine(line string) (time.Time, string, error) {
	line = strings.TrimRight(line, "\r\n")
	stamp, text, ok := strings.Cut(line, " ")
	if !ok {
		// a line with an empty message has no separator
		stamp, text = line, ""
	}
	ts, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return time.Time{}, line, fmt.Errorf("invalid log timestamp %q: %w", stamp, err)
	}
	return ts.UTC(), text, nil
}

// SplitImage returns the repository and tag of an image reference,
// defaulting the tag to latest.
func SplitImage(image string) (string, string, error) {
	return splitImage(image)
}
