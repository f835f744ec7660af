// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/runtime"
)

// Container is the fake daemon's record of one container
type Container struct {
	ID      string
	Spec    runtime.ContainerSpec
	Status  string
	IP      string
	ImageID string
	Logs    []string
}

// Fake is a thread-safe in-memory daemon. Errors registered with FailNext
// or FailAlways are returned by the named operation.
type Fake struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*Container
	images     map[string]string
	calls      []string
	failNext   map[string][]error
	failAlways map[string]error
	hook       func(op, id string)
}

var _ runtime.Runtime = (*Fake)(nil)

// New returns an empty fake daemon
func New() *Fake {
	return &Fake{
		containers: make(map[string]*Container),
		images:     make(map[string]string),
		failNext:   make(map[string][]error),
		failAlways: make(map[string]error),
	}
}

// FailNext makes the next call of op fail with err
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = append(f.failNext[op], err)
}

// FailAlways makes every call of op fail with err; a nil err clears it
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failAlways, op)
		return
	}
	f.failAlways[op] = err
}

// OnCall registers a hook run before every operation, outside the fake's lock
func (f *Fake) OnCall(fn func(op, id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

func (f *Fake) before(op, id string) {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(op, id)
	}
}

// Calls returns the operations issued so far, in order, as "op" or "op:id"
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls clears the call log
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Container returns a copy of a container record
func (f *Fake) Container(id string) (Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Container{}, false
	}
	cp := *c
	cp.Logs = append([]string(nil), c.Logs...)
	return cp, true
}

// Containers returns the number of containers the daemon knows
func (f *Fake) Containers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// SetStatus changes a container's status behind the caller's back
func (f *Fake) SetStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Status = status
	}
}

// Vanish removes a container as if it was deleted outside burrow
func (f *Fake) Vanish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

// AddContainer registers an existing container
func (f *Fake) AddContainer(c Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := c
	f.containers[c.ID] = &cp
}

// Emit appends a log line with the given timestamp
func (f *Fake) Emit(id string, ts time.Time, text string) {
	f.EmitRaw(id, ts.UTC().Format(runtime.LogTimestampLayout)+" "+text)
}

// EmitRaw appends a log line verbatim
func (f *Fake) EmitRaw(id, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Logs = append(c.Logs, line)
	}
}

func (f *Fake) record(op, id string) error {
	if id != "" {
		f.calls = append(f.calls, op+":"+id)
	} else {
		f.calls = append(f.calls, op)
	}
	if q := f.failNext[op]; len(q) > 0 {
		f.failNext[op] = q[1:]
		return q[0]
	}
	if err, ok := f.failAlways[op]; ok {
		return err
	}
	return nil
}

func notFound(op, id string) error {
	return &runtime.Error{Op: op, ID: id, Err: fmt.Errorf("%w: no such container: %s", runtime.ErrNotFound, id)}
}

func (f *Fake) lookup(op, id string) (*Container, error) {
	c, ok := f.containers[id]
	if !ok {
		return nil, notFound(op, id)
	}
	return c, nil
}

func (f *Fake) Pull(ctx context.Context, repository, tag string, progress func(runtime.PullProgress)) error {
	ref := runtime.JoinImage(repository, tag)
	f.before("pull", ref)
	f.mu.Lock()
	if err := f.record("pull", ref); err != nil {
		f.mu.Unlock()
		return err
	}
	if _, ok := f.images[ref]; !ok {
		f.images[ref] = fmt.Sprintf("sha256:%064d", len(f.images)+1)
	}
	f.mu.Unlock()

	if progress != nil {
		progress(runtime.PullProgress{ID: tag, Status: "Pulling from " + repository})
		progress(runtime.PullProgress{ID: tag, Status: "Download complete"})
	}
	return ctx.Err()
}

func (f *Fake) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	f.before("create", spec.Name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create", spec.Name); err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("c%04d", f.seq)
	f.containers[id] = &Container{
		ID:      id,
		Spec:    spec,
		Status:  "created",
		IP:      fmt.Sprintf("172.17.0.%d", f.seq+1),
		ImageID: f.images[spec.Image],
	}
	return id, nil
}

func (f *Fake) transition(op, id string, from []string, to string) error {
	f.before(op, id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(op, id); err != nil {
		return err
	}
	c, err := f.lookup(op, id)
	if err != nil {
		return err
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return nil
		}
	}
	return &runtime.Error{Op: op, ID: id, Err: fmt.Errorf("container is %s", c.Status)}
}

func (f *Fake) Start(ctx context.Context, id string) error {
	return f.transition("start", id, []string{"created", "exited", "running"}, "running")
}

func (f *Fake) Stop(ctx context.Context, id string) error {
	return f.transition("stop", id, []string{"running", "paused", "exited", "created"}, "exited")
}

func (f *Fake) Pause(ctx context.Context, id string) error {
	return f.transition("pause", id, []string{"running"}, "paused")
}

func (f *Fake) Unpause(ctx context.Context, id string) error {
	return f.transition("unpause", id, []string{"paused"}, "running")
}

func (f *Fake) Remove(ctx context.Context, id string) error {
	f.before("remove", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", id); err != nil {
		return err
	}
	if _, err := f.lookup("remove", id); err != nil {
		return err
	}
	delete(f.containers, id)
	return nil
}

func (f *Fake) InspectContainer(ctx context.Context, id string) (runtime.ContainerInfo, error) {
	f.before("inspect", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("inspect", id); err != nil {
		return runtime.ContainerInfo{}, err
	}
	c, err := f.lookup("inspect", id)
	if err != nil {
		return runtime.ContainerInfo{}, err
	}
	return runtime.ContainerInfo{ID: c.ID, Status: c.Status, NetworkIP: c.IP, ImageID: c.ImageID}, nil
}

func (f *Fake) InspectImage(ctx context.Context, ref string) (string, error) {
	f.before("inspect-image", ref)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("inspect-image", ref); err != nil {
		return "", err
	}
	id, ok := f.images[ref]
	if !ok {
		return "", &runtime.Error{Op: "inspect-image", ID: ref, Err: fmt.Errorf("%w: no such image: %s", runtime.ErrNotFound, ref)}
	}
	return id, nil
}

// FetchLogs mimics the daemon: since is honoured at second granularity only
func (f *Fake) FetchLogs(ctx context.Context, id string, since time.Time) ([]string, error) {
	f.before("logs", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("logs", id); err != nil {
		return nil, err
	}
	c, err := f.lookup("logs", id)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range c.Logs {
		if !since.IsZero() {
			ts, _, err := runtime.ParseLogLine(line)
			if err == nil && ts.Unix() < since.Unix() {
				continue
			}
		}
		out = append(out, line)
	}
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ping", "")
}

func (f *Fake) Close() error {
	return nil
}

// ErrDaemon is a generic daemon failure for tests
var ErrDaemon = errors.New("daemon exploded")

// DaemonError wraps ErrDaemon as a runtime error for op
func DaemonError(op string) error {
	return &runtime.Error{Op: op, Err: ErrDaemon}
}
