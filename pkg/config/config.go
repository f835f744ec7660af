package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	API        APIConfig        `yaml:"api"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Lock       LockConfig       `yaml:"lock"`
	Queue      QueueConfig      `yaml:"queue"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	LogPoller  LogPollerConfig  `yaml:"logpoller"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	Logging    LoggingConfig    `yaml:"logging"`
	OTel       OTelConfig       `yaml:"otel"`
}

// APIConfig configures the collaborator HTTP surface.
type APIConfig struct {
	// Addr is the listen address.  Default: "127.0.0.1:8080".
	Addr string `yaml:"addr"`
}

// RuntimeConfig selects and configures the container daemon.
type RuntimeConfig struct {
	// Type selects the daemon: only "docker" is supported.
	Type string `yaml:"type"`
	// Host is the daemon socket (e.g. "unix:///var/run/docker.sock").
	// If empty, DOCKER_HOST and friends are used.
	Host string `yaml:"host"`
	// APIVersion pins the daemon API version; empty negotiates.
	APIVersion string `yaml:"api_version"`
	// Network is attached to workloads that do not name one.
	Network string `yaml:"network"`
	// StopTimeout is the grace the daemon gives a container on stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// ProxyConfig describes where workloads are published.
type ProxyConfig struct {
	// BasePath prefixes every workload's public path.  Default: "/".
	BasePath string `yaml:"base_path"`
}

// LockConfig configures the per-workload action lock.
type LockConfig struct {
	// Cooldown is the minimum time between two actions.  Default: 5s.
	Cooldown time.Duration `yaml:"cooldown"`
	// LeaseWait bounds how long an action waits while a poll or
	// reconciliation holds the workload.  Default: 30s.
	LeaseWait time.Duration `yaml:"lease_wait"`
}

// QueueConfig configures the background worker pool.
type QueueConfig struct {
	// Workers is the number of jobs run concurrently.  Default: 4.
	Workers int `yaml:"workers"`
	// Capacity bounds the ready-job buffer.  Default: 256.
	Capacity int `yaml:"capacity"`
}

// ReconcilerConfig configures the reconciliation loop.
type ReconcilerConfig struct {
	// Interval between passes; 0 disables the loop.  Default: 30s.
	Interval time.Duration `yaml:"interval"`
	// GracePeriod a divergence is tolerated.  Default: 180s.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// LogPollerConfig configures the log poller.
type LogPollerConfig struct {
	// Interval between polls; 0 disables polling.  Default: 5s.
	Interval time.Duration `yaml:"interval"`
	// RateLimit caps daemon calls per second; 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
}

// DefaultsConfig fills workload fields left empty at creation.
type DefaultsConfig struct {
	// Timeout per daemon call in seconds.  Default: 60.
	Timeout int `yaml:"timeout"`
	// MaxRetries is the reconciliation budget.  Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json.  Default: json.
	Format string `yaml:"format"`
}

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OTLP push is active.  Default: false.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`
	// Insecure enables plain HTTP for OTLP export.
	Insecure bool `yaml:"insecure"`
	// StdOut also prints traces and metrics to stdout.
	StdOut bool `yaml:"stdout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path. A missing file yields a zero
// Config; flags and defaults fill it in.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./burrow-data"
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8080"
	}
	if c.Runtime.Type == "" {
		c.Runtime.Type = "docker"
	}
	if c.Runtime.StopTimeout == 0 {
		c.Runtime.StopTimeout = 10 * time.Second
	}
	if c.Proxy.BasePath == "" {
		c.Proxy.BasePath = "/"
	}
	if c.Lock.Cooldown == 0 {
		c.Lock.Cooldown = 5 * time.Second
	}
	if c.Lock.LeaseWait == 0 {
		c.Lock.LeaseWait = 30 * time.Second
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 256
	}
	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = 30 * time.Second
	}
	if c.Reconciler.GracePeriod == 0 {
		c.Reconciler.GracePeriod = 180 * time.Second
	}
	if c.LogPoller.Interval == 0 {
		c.LogPoller.Interval = 5 * time.Second
	}
	if c.Defaults.Timeout == 0 {
		c.Defaults.Timeout = 60
	}
	if c.Defaults.MaxRetries == 0 {
		c.Defaults.MaxRetries = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate applies defaults and checks that settings are consistent.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	if c.Runtime.Type != "docker" {
		return fmt.Errorf("runtime.type %q is not supported (supported: docker)", c.Runtime.Type)
	}
	if !strings.HasPrefix(c.Proxy.BasePath, "/") {
		return fmt.Errorf("proxy.base_path %q must start with /", c.Proxy.BasePath)
	}
	if c.Lock.Cooldown < 0 {
		return fmt.Errorf("lock.cooldown must not be negative")
	}
	if c.Lock.LeaseWait < 0 {
		return fmt.Errorf("lock.lease_wait must not be negative")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	if c.Reconciler.Interval < 0 || c.LogPoller.Interval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.Reconciler.GracePeriod < 0 {
		return fmt.Errorf("reconciler.grace_period must not be negative")
	}
	if c.LogPoller.RateLimit < 0 {
		return fmt.Errorf("logpoller.rate_limit must not be negative")
	}
	if c.Defaults.Timeout < 1 {
		return fmt.Errorf("defaults.timeout must be at least 1 second, got %d", c.Defaults.Timeout)
	}
	if c.Defaults.MaxRetries < 0 {
		return fmt.Errorf("defaults.max_retries must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported (supported: json, text)", c.Logging.Format)
	}
	return nil
}

// JSONLogs reports whether logs are written as JSON.
func (c *Config) JSONLogs() bool {
	return strings.ToLower(c.Logging.Format) != "text"
}
