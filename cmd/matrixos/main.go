package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andrewsiemer/matrix-os/internal/apps"
	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/domain/ipc"
	"github.com/andrewsiemer/matrix-os/internal/domain/kernel"
	"github.com/andrewsiemer/matrix-os/internal/domain/sandbox"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/config"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/display"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/logging"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/server"
)

// hostCommand is the subcommand the kernel re-executes for process apps
const hostCommand = "app-host"

func main() {
	if len(os.Args) > 1 && os.Args[1] == hostCommand {
		if err := sandbox.ServeHost(os.Stdin, os.Stdout, apps.Builtin(), logging.NewHost); err != nil {
			fmt.Fprintf(os.Stderr, "app host: %v\n", err)
			os.Exit(1)
		}
		return
	}

	roster := flag.String("apps", "", "App roster file (overrides MATRIXOS_APPS)")
	sink := flag.String("sink", "", "Display sink: simulator or terminal (overrides MATRIX_SINK)")
	monitorAddr := flag.String("monitor", "", "Web monitor address (overrides MONITOR_ADDR)")
	noMonitor := flag.Bool("no-monitor", false, "Disable the web monitor")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *roster != "" {
		cfg.Roster.Path = *roster
	}
	if *sink != "" {
		cfg.Display.Sink = *sink
	}
	if *monitorAddr != "" {
		cfg.Monitor.Addr = *monitorAddr
	}
	if *noMonitor {
		cfg.Monitor.Enabled = false
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("matrix-os exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("matrix-os stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	logger := log.Logger
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := apps.Builtin()
	roster, err := loadRoster(cfg.Roster.Path, registry)
	if err != nil {
		return err
	}

	sink, err := display.Open(cfg.Display.Sink, cfg.Display.Geometry(), os.Stdout)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics("matrixos")
	k, err := kernel.New(kernel.Options{
		Config:   kernelConfig(cfg),
		Registry: registry,
		Sink:     sink,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	for _, e := range roster.Apps {
		if err := register(k, e, cfg.Kernel.DefaultAppDuration); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return k.Run(ctx) })
	if cfg.Monitor.Enabled {
		srv := server.New(cfg.Monitor, k, metrics, logger, cfg.Logging.Development).WithLogLevel(log)
		g.Go(func() error { return srv.Run(ctx) })
	}
	return g.Wait()
}

// loadRoster reads the configured roster, or the default one when no file
// is configured, and validates it against the registry
func loadRoster(path string, registry *app.Registry) (*config.Roster, error) {
	roster := apps.DefaultRoster()
	if path != "" {
		var err error
		if roster, err = config.LoadRoster(path); err != nil {
			return nil, err
		}
	}
	if err := roster.Validate(registry); err != nil {
		return nil, err
	}
	if len(roster.Apps) == 0 {
		return nil, errors.New("roster has no apps")
	}
	return roster, nil
}

func register(k *kernel.Kernel, e config.RosterEntry, def time.Duration) error {
	spec, err := e.Spec()
	if err != nil {
		return err
	}
	duration, err := e.DurationOr(def)
	if err != nil {
		return err
	}
	_, err = k.RegisterApp(spec, kernel.Placement{
		Priority:   e.Priority,
		Duration:   duration,
		Overlay:    e.Overlay,
		Persistent: e.Persistent,
	})
	return err
}

func kernelConfig(cfg *config.Config) kernel.Config {
	host := sandbox.DefaultCommand()
	if cfg.Sandbox.HostBinary != "" {
		host.Path = cfg.Sandbox.HostBinary
	}
	host.Args = []string{hostCommand}

	return kernel.Config{
		TargetFPS:       cfg.Kernel.TargetFPS,
		MessageBatch:    cfg.Kernel.MessageBatch,
		PollTimeout:     cfg.Kernel.PollTimeout,
		DefaultDuration: cfg.Kernel.DefaultAppDuration,
		PauseHidden:     cfg.Kernel.PauseHidden,
		LoopStopTimeout: cfg.Kernel.LoopStopTimeout,
		Bus: ipc.Config{
			KernelQueueDepth: cfg.Sandbox.KernelQueueDepth,
			AppQueueDepth:    cfg.Sandbox.AppQueueDepth,
		},
		Sandbox: sandbox.Config{
			StopGrace:    cfg.Sandbox.StopGrace,
			KillWait:     cfg.Sandbox.KillWait,
			MinFramerate: cfg.Sandbox.MinFramerate,
			MaxFramerate: cfg.Sandbox.MaxFramerate,
			Host:         host,
			HostLogLevel: cfg.Logging.Level,
		},
	}
}
