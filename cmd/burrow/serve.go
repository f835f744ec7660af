package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/dispatcher"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/logpoller"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the burrow service",
	Long: `Run the API, the action workers, the reconciliation loop and the
log poller against the configured container daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	cmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	cmd.Flags().String("api-addr", "", "API listen address (overrides config)")
	cmd.Flags().String("docker-host", "", "Docker daemon address (overrides config)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().Bool("log-json", false, "Write logs as JSON")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.API.Addr = v
	}
	if v, _ := cmd.Flags().GetString("docker-host"); v != "" {
		cfg.Runtime.Host = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if cmd.Flags().Changed("log-json") {
		if v, _ := cmd.Flags().GetBool("log-json"); v {
			cfg.Logging.Format = "json"
		} else {
			cfg.Logging.Format = "text"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Logging.Level),
		JSONOutput: cfg.JSONLogs(),
	})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, "burrow", Version, telemetry.Config{
		Enabled:    cfg.OTel.Enabled,
		Endpoint:   cfg.OTel.Endpoint,
		Insecure:   cfg.OTel.Insecure,
		StdOut:     cfg.OTel.StdOut,
		Prometheus: true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	rt, err := runtime.NewDocker(runtime.DockerConfig{
		Host:        cfg.Runtime.Host,
		APIVersion:  cfg.Runtime.APIVersion,
		StopTimeout: cfg.Runtime.StopTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	defer rt.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	stopEventLog := broker.LogTo(log.WithComponent("events"))
	defer stopEventLog()

	leases := lock.NewKeyed()
	locks := lock.NewManager(store, cfg.Lock.Cooldown)
	disp := dispatcher.New(rt, locks, dispatcher.Config{
		BasePath:       cfg.Proxy.BasePath,
		DefaultTimeout: time.Duration(cfg.Defaults.Timeout) * time.Second,
	})
	exec := executor.New(store, disp, leases, broker)
	exec.SetLeaseWait(cfg.Lock.LeaseWait)

	q := queue.NewMemory(cfg.Queue.Workers, cfg.Queue.Capacity)
	rec := reconciler.NewReconciler(store, rt, q, leases, broker, reconciler.Config{
		GracePeriod: cfg.Reconciler.GracePeriod,
	})
	poller := logpoller.New(store, rt, leases, broker, logpoller.Config{
		RateLimit: cfg.LogPoller.RateLimit,
	})

	q.Handle(queue.KindAction, func(ctx context.Context, job queue.Job) error {
		return exec.Run(ctx, job.Payload)
	})
	q.Handle(queue.KindReconcile, rec.Handle)
	q.Handle(queue.KindPollLogs, poller.Handle)

	sched := scheduler.NewScheduler(q,
		scheduler.Task{Kind: queue.KindReconcile, Interval: cfg.Reconciler.Interval},
		scheduler.Task{Kind: queue.KindPollLogs, Interval: cfg.LogPoller.Interval},
	)

	metrics.RegisterProbe("runtime", true, rt.Ping)
	metrics.RegisterProbe("storage", true, func(context.Context) error {
		_, err := store.ListWorkloads()
		return err
	})
	collector := metrics.NewCollector(store, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	srv := api.NewServer(store, q, api.Config{
		Addr:              cfg.API.Addr,
		DefaultTimeout:    cfg.Defaults.Timeout,
		DefaultMaxRetries: cfg.Defaults.MaxRetries,
		DefaultNetwork:    cfg.Runtime.Network,
	})

	fmt.Println("Starting burrow...")
	fmt.Printf("  API Address: %s\n", cfg.API.Addr)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  Runtime: %s\n", cfg.Runtime.Type)
	fmt.Println()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Run(gctx) })
	g.Go(srv.ListenAndServe)
	sched.Start()

	fmt.Println("✓ Burrow is running")
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case <-gctx.Done():
		runErr = context.Cause(gctx)
	}

	sched.Stop()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown")
	}
	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
