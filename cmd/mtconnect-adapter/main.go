// Package main implements the entry point for the MTConnect SHDR adapter.
// The adapter collects observations from its inputs, keeps the current
// state of every data item, and serves changes to MTConnect agents and
// other outputs.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/moduleregistry"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mtconnect-adapter"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting MTConnect adapter",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	registry := module.NewRegistry()
	if err := moduleregistry.Register(registry); err != nil {
		return fmt.Errorf("register modules: %w", err)
	}

	if cliCfg.Validate {
		if err := checkModuleTypes(cfg, registry); err != nil {
			return err
		}
		slog.Info("Configuration is valid", "modules", len(cfg.Modules))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, registry, logger)
	if err != nil {
		return err
	}
	return a.run(ctx, cliCfg.ShutdownTimeout)
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// checkModuleTypes fails when an enabled module names an unknown type.
func checkModuleTypes(cfg *config.Config, registry *module.Registry) error {
	var errs []error
	for _, spec := range cfg.ModuleSpecs() {
		if !spec.Enabled {
			continue
		}
		if _, ok := registry.Lookup(spec.Type); !ok {
			errs = append(errs, fmt.Errorf("module %s: unknown type %q", spec.Name, spec.Type))
		}
	}
	return stderrors.Join(errs...)
}

// app wires the adapter to its modules and the metrics endpoint.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	adapter *adapter.Adapter
	modules *module.Set
	server  *metric.Server
	devices []mtconnect.Device
	assets  []mtconnect.Asset
}

func newApp(cfg *config.Config, registry *module.Registry, logger *slog.Logger) (*app, error) {
	devices, err := cfg.LoadDevices()
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	assets, err := cfg.LoadAssets()
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()
	metricsRegistry.CoreMetrics().BuildInfo.WithLabelValues(Version).Set(1)

	set := module.NewSet(registry, logger)
	a, err := adapter.New(cfg.AdapterSettings(), set.Writers(),
		adapter.WithLogger(logger),
		adapter.WithMetrics(metricsRegistry),
		adapter.WithErrorHandler(func(error) {
			metricsRegistry.CoreMetrics().RecordError("adapter", "flush")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create adapter: %w", err)
	}

	deps := module.Dependencies{
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
		Adapter:         a,
		Replay:          a,
	}
	if err := set.CreateAll(cfg.ModuleSpecs(), deps); err != nil {
		logger.Error("Some modules could not be created", "error", err)
	}
	if set.Sinks() == 0 {
		logger.Warn("No output modules configured; changes are cached but not delivered")
	}

	application := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metricsRegistry,
		adapter: a,
		modules: set,
		devices: devices,
		assets:  assets,
	}
	if cfg.Metrics.Enabled {
		application.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, application.health)
	}
	return application, nil
}

// health aggregates the adapter and every module.
func (a *app) health() health.Status {
	return health.Aggregate(appName, []health.Status{a.adapter.Health(), a.modules.Health()})
}

// start loads the configured documents, starts outputs before inputs, and
// starts the flush worker.
func (a *app) start(ctx context.Context) error {
	for _, d := range a.devices {
		a.adapter.AddDevice(d)
	}
	for _, asset := range a.assets {
		a.adapter.AddAsset(asset)
	}

	if err := a.modules.StartAll(ctx); err != nil {
		a.logger.Error("Some modules failed to start", "error", err)
	}

	if a.cfg.Adapter.UnavailableOnStart {
		a.adapter.SetUnavailable(0)
	}
	if a.cfg.Adapter.Interval == 0 {
		a.logger.Warn("Adapter interval is 0; changes are sent only at startup and shutdown")
	}

	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	a.adapter.SendChanged()
	return nil
}

// shutdown optionally reports every data item unavailable, then stops
// inputs, the worker and outputs, in that order.
func (a *app) shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	remaining := func() time.Duration {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}

	if a.cfg.Adapter.UnavailableOnStop {
		a.adapter.SetUnavailable(0)
	}

	var errs []error
	if err := a.adapter.Stop(remaining()); err != nil {
		errs = append(errs, err)
	}
	if !a.adapter.SendChanged() {
		a.logger.Warn("Final changes not delivered to every output")
	}
	if err := a.modules.StopAll(remaining()); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// run starts everything and blocks until ctx is cancelled or the metrics
// server fails.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := a.start(ctx); err != nil {
		_ = a.modules.StopAll(shutdownTimeout)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(a.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return a.server.Stop()
		})
		a.logger.Info("Metrics endpoint listening", "address", a.server.Address())
	}

	a.logger.Info("MTConnect adapter started",
		"modules", a.modules.Len(),
		"outputs", a.modules.Sinks(),
		"devices", len(a.devices),
		"assets", len(a.assets))

	<-gctx.Done()
	a.logger.Info("Shutting down")

	err := a.shutdown(shutdownTimeout)
	if gerr := g.Wait(); gerr != nil {
		err = stderrors.Join(err, gerr)
	}
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.logger.Info("MTConnect adapter shutdown complete")
	return nil
}
