/*
Package runtime is burrow's boundary to the container daemon.

The Runtime interface is deliberately narrow: pull an image, create, start,
stop, pause, unpause and remove a container, inspect containers and images,
fetch logs. It carries no business logic; ordering and legality of calls are
decided by the statemachine and dispatcher packages.

# Docker

Docker implements Runtime on the Docker Engine API client. The client is
built from the environment (DOCKER_HOST and friends) and negotiates the API
version unless one is pinned in the config:

	rt, err := runtime.NewDocker(runtime.DockerConfig{
		Host:        cfg.Runtime.Host,
		APIVersion:  cfg.Runtime.APIVersion,
		StopTimeout: 10 * time.Second,
	})

Containers are created without a TTY, so FetchLogs demultiplexes stdout and
stderr into a single ordered stream. Every line carries the daemon's
fixed-width timestamp prefix (LogTimestampLayout) which ParseLogLine splits
off. The daemon only honours since at whole seconds; callers that poll
incrementally must drop lines at or before their last stored timestamp.

# Errors

Every failed call returns a *Error naming the operation and target. When the
daemon reports that the container or image does not exist the error also
wraps ErrNotFound:

	if runtime.IsNotFound(err) {
		// container vanished outside burrow
	}

# State mapping

MapState translates daemon container statuses into workload states:

	created    → created
	running    → running
	restarting → running
	paused     → paused
	exited     → exited
	dead       → dead
	removing   → deleting

Any other status is reported as unknown.

# Testing

The runtimetest subpackage provides Fake, an in-memory daemon with error
injection, used by the dispatcher, executor, reconciler and log poller tests.
The Docker adapter itself is exercised against a real daemon by tests behind
the integration build tag.
*/
package runtime
