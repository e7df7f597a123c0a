package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/handlers"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/orchestrator"
	"github.com/soltixdb/ringkv/internal/router"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Orchestrator starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Coordination store
	logger.Info("Connecting to coordination store", "backend", cfg.Coordination.Backend, "endpoints", cfg.Etcd.Endpoints)
	store, err := coordination.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open coordination store", "error", err)
	}
	defer func() { _ = store.Close() }()
	keys := cluster.NewKeys(cfg.Coordination.Prefix)

	// 4. Event bus
	bus, err := events.NewBus(cfg.Events)
	if err != nil {
		logger.Fatal("Failed to connect to event bus", "type", cfg.Events.Type, "error", err)
	}
	if bus != nil {
		defer func() { _ = bus.Close() }()
	}
	emitter := events.NewEmitter(bus, cfg.Events.Subject, logger)
	recorder := events.NewRecorder(bus, cfg.Events.Subject, 0, logger)
	if err := recorder.Start(); err != nil {
		logger.Fatal("Failed to subscribe to cluster events", "error", err)
	}

	// 5. Orchestrator
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	orch := orchestrator.New(store, keys, orchestrator.Options{
		Name:                cfg.Cluster.Name,
		ControlTimeout:      cfg.Cluster.ControlTimeout,
		TransferTimeout:     cfg.Cluster.TransferTimeout,
		RegistrationTimeout: cfg.Cluster.RegistrationTimeout,
		RecoveryPolicy:      cfg.Cluster.RecoveryPolicy,
	}, orchestrator.ManualProvisioner{Logger: logger}, emitter, logger, m)

	seeds, err := loadSeeds(cfg.Cluster.SeedFile)
	if err != nil {
		logger.Fatal("Failed to load seed file", "path", cfg.Cluster.SeedFile, "error", err)
	}
	orch.SetSeeds(seeds)
	logger.Info("Seed pool loaded", "path", cfg.Cluster.SeedFile, "nodes", len(seeds))

	if err := orch.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore committed ring", "error", err)
	}
	go orch.Monitor(ctx)

	// 6. Admin API
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}
	app := router.New("ringkv orchestrator", logger)
	router.SetupOrchestrator(app, logger, handlers.NewOrchestrator(logger, Version, orch, recorder),
		prometheus.DefaultGatherer, cfg.Auth)

	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Admin API listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 7. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Orchestrator stopped")
}

func loadSeeds(path string) ([]hashring.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return hashring.ParseSeeds(f)
}
