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
	"github.com/soltixdb/ringkv/internal/agent"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/handlers"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/replication"
	"github.com/soltixdb/ringkv/internal/router"
	"github.com/soltixdb/ringkv/internal/storage"
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
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Node starting...",
		"node", cfg.Node.Name, "version", Version, "commit", GitCommit, "build time", BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Coordination store
	store, err := coordination.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open coordination store", "error", err)
	}
	defer func() { _ = store.Close() }()

	// 4. Storage engine
	engine, err := storage.Open(storage.Options{
		Engine:      cfg.Node.Engine,
		DataDir:     cfg.Node.DataDir,
		CachePolicy: cfg.Node.Cache.Policy,
		CacheSize:   cfg.Node.Cache.Size,
	})
	if err != nil {
		logger.Fatal("Failed to open storage engine", "engine", cfg.Node.Engine, "error", err)
	}
	defer func() { _ = engine.Close() }()
	logger.Info("Storage engine opened",
		"engine", cfg.Node.Engine, "data_dir", cfg.Node.DataDir, "cache_policy", cfg.Node.Cache.Policy)

	// 5. Replication: outbound manager and optional inbound ingress
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	repl := replication.NewManager(logger, m)
	defer repl.Close()
	go logReplicationFailures(ctx, logger, repl)

	var replicationAddr string
	if addr := cfg.GetReplicationAddress(); addr != "" {
		ingress, err := replication.NewIngress(addr, engine, logger, m)
		if err != nil {
			logger.Fatal("Failed to start replication ingress", "address", addr, "error", err)
		}
		defer func() { _ = ingress.Close() }()
		go func() {
			if err := ingress.Serve(ctx); err != nil {
				logger.Error("Replication ingress stopped", "error", err)
			}
		}()
		replicationAddr = fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.ReplicationPort)
	}
	if len(cfg.Node.Backups) > 0 {
		if err := repl.Configure(ctx, cfg.Node.Backups); err != nil {
			logger.Error("Failed to connect configured backups", "backups", cfg.Node.Backups, "error", err)
		}
	}

	// 6. Agent
	a := agent.New(store, cluster.NewKeys(cfg.Coordination.Prefix), agent.Options{
		Name:            cfg.Node.Name,
		Host:            cfg.Node.Host,
		Port:            cfg.Node.Port,
		TransferHost:    cfg.Server.Host,
		ReplicationAddr: replicationAddr,
		TransferTimeout: cfg.Cluster.TransferTimeout,
		AcceptTimeout:   cfg.Cluster.ControlTimeout,
		LeaseTTL:        cfg.Coordination.LeaseTTL,
	}, engine, repl, logger, m)
	if err := a.Start(ctx); err != nil {
		logger.Fatal("Failed to start node agent", "error", err)
	}

	// 7. Data API
	app := router.New("ringkv node "+cfg.Node.Name, logger)
	router.SetupNode(app, logger, handlers.NewNode(logger, Version, a), prometheus.DefaultGatherer, cfg.Auth)
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Data API listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 8. Run until a signal or an acknowledged SHUTDOWN
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-a.ShutdownRequested():
		logger.Info("Shutdown requested by orchestrator")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to deregister node", "error", err)
	}
	cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Node stopped")
}

// logReplicationFailures reports backups the manager gave up on. The node
// keeps serving; an operator re-adds the backup via /admin/replication.
func logReplicationFailures(ctx context.Context, logger *logging.Logger, repl *replication.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-repl.Failures():
			if !ok {
				return
			}
			logger.Warn("Backup dropped", "peer", f.Peer, "error", f.Err)
		}
	}
}
