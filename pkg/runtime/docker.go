package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/cuemby/burrow/pkg/log"
)

// DockerConfig holds Docker daemon connection settings
type DockerConfig struct {
	// Host is the daemon address; empty uses DOCKER_HOST or the default socket
	Host string
	// APIVersion pins the API version; empty negotiates with the daemon
	APIVersion string
	// StopTimeout is the grace period given to a container before it is killed
	StopTimeout time.Duration
}

// Docker implements Runtime on the Docker Engine API
type Docker struct {
	client      *client.Client
	stopTimeout int
}

var _ Runtime = (*Docker)(nil)

// NewDocker connects a client to the Docker daemon
func NewDocker(cfg DockerConfig) (*Docker, error) {
	opts := []client.Opt{client.FromEnv}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	stop := int(cfg.StopTimeout / time.Second)
	if stop <= 0 {
		stop = 10
	}

	return &Docker{client: cli, stopTimeout: stop}, nil
}

// Close releases the client connection
func (d *Docker) Close() error {
	return d.client.Close()
}

// Ping checks the daemon is reachable
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return classify("ping", "", err)
}

// Pull pulls repository:tag and drains the progress stream
func (d *Docker) Pull(ctx context.Context, repository, tag string, progress func(PullProgress)) error {
	ref := JoinImage(repository, tag)

	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("pull", ref, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &Error{Op: "pull", ID: ref, Err: fmt.Errorf("failed to read pull stream: %w", err)}
		}
		if msg.Error != nil {
			return &Error{Op: "pull", ID: ref, Err: errors.New(msg.Error.Message)}
		}
		if progress != nil {
			p := PullProgress{ID: msg.ID, Status: msg.Status}
			if msg.Progress != nil {
				p.Progress = msg.Progress.String()
			}
			progress(p)
		}
	}
}

// CreateContainer creates a stopped container and returns its ID
func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}
	if len(spec.Command) > 0 {
		cfg.Cmd = spec.Command
	}
	if spec.Port > 0 {
		cfg.ExposedPorts = nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", spec.Port)): struct{}{},
		}
	}

	hostCfg := &container.HostConfig{}
	for _, u := range spec.Ulimits {
		hostCfg.Ulimits = append(hostCfg.Ulimits, &container.Ulimit{
			Name: u.Name,
			Soft: u.Soft,
			Hard: u.Hard,
		})
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", classify("create", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		log.Logger.Warn().Str("container_id", resp.ID).Msg(w)
	}
	return resp.ID, nil
}

// Start starts a created or exited container
func (d *Docker) Start(ctx context.Context, containerID string) error {
	err := d.client.ContainerStart(ctx, containerID, container.StartOptions{})
	return classify("start", containerID, err)
}

// Stop stops a container, killing it after the stop timeout
func (d *Docker) Stop(ctx context.Context, containerID string) error {
	timeout := d.stopTimeout
	err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	return classify("stop", containerID, err)
}

// Pause freezes every process of a container
func (d *Docker) Pause(ctx context.Context, containerID string) error {
	return classify("pause", containerID, d.client.ContainerPause(ctx, containerID))
}

// Unpause resumes a paused container
func (d *Docker) Unpause(ctx context.Context, containerID string) error {
	return classify("unpause", containerID, d.client.ContainerUnpause(ctx, containerID))
}

// Remove force-removes a container and its anonymous volumes
func (d *Docker) Remove(ctx context.Context, containerID string) error {
	err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	return classify("remove", containerID, err)
}

// InspectContainer returns the observed status of a container
func (d *Docker) InspectContainer(ctx context.Context, containerID string) (ContainerInfo, error) {
	resp, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerInfo{}, classify("inspect", containerID, err)
	}

	info := ContainerInfo{ID: resp.ID, ImageID: resp.Image}
	if resp.State != nil {
		info.Status = string(resp.State.Status)
	}
	if resp.NetworkSettings != nil {
		names := make([]string, 0, len(resp.NetworkSettings.Networks))
		for name := range resp.NetworkSettings.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if ep := resp.NetworkSettings.Networks[name]; ep != nil && ep.IPAddress != "" {
				info.NetworkIP = ep.IPAddress
				break
			}
		}
	}
	return info, nil
}

// InspectImage resolves an image reference to its ID
func (d *Docker) InspectImage(ctx context.Context, ref string) (string, error) {
	resp, err := d.client.ImageInspect(ctx, ref)
	if err != nil {
		return "", classify("inspect-image", ref, err)
	}
	return resp.ID, nil
}

// FetchLogs returns stdout and stderr lines with timestamps. The daemon only
// accepts whole seconds for since, so callers must filter the boundary.
func (d *Docker) FetchLogs(ctx context.Context, containerID string, since time.Time) ([]string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	if !since.IsZero() {
		opts.Since = strconv.FormatInt(since.Unix(), 10)
	}

	rc, err := d.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, classify("logs", containerID, err)
	}
	defer rc.Close()

	// containers are created without a TTY, so the stream is multiplexed;
	// writing both streams into one buffer keeps emission order
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, &Error{Op: "logs", ID: containerID, Err: fmt.Errorf("failed to demultiplex logs: %w", err)}
	}

	return splitLines(buf.String()), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSuffix(l, "\r")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// classify converts a client error into a *Error, mapping not-found responses to ErrNotFound
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return &Error{Op: op, ID: id, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
	}
	return &Error{Op: op, ID: id, Err: err}
}
