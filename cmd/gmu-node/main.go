package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/pairdb/gmu-node/internal/config"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/server"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/storage/container"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"github.com/devrev/pairdb/gmu-node/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/gmu-node.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("members", cfg.Server.Members))

	nodeID := cfg.Server.NodeID
	m := metrics.NewMetrics(nodeID, prometheus.DefaultRegisterer)

	// Versioning and commit ordering
	generator := service.NewVersionGenerator(nodeID, cfg.Server.Members, logger)
	commitLog := service.NewCommitLogService(&service.CommitLogConfig{
		HistorySize: cfg.CommitLog.HistorySize,
		WaitTimeout: cfg.CommitLog.WaitTimeout,
	}, generator, m, logger)

	store := container.NewMultiVersionContainer(generator)
	commitManager := service.NewCommitManager(commitLog, generator, nil, m, logger)
	applier := service.NewCommitApplier(commitManager, store, generator, cfg.CommitQueue.DrainInterval, logger)

	// Ownership and membership
	ownership := service.NewOwnershipService(&service.OwnershipConfig{
		VirtualNodes:      cfg.Ownership.VirtualNodes,
		ReplicationFactor: cfg.Ownership.ReplicationFactor,
	}, generator.CurrentView().Members(), logger)
	membership := service.NewMembershipService(generator, commitLog, ownership, m, logger)

	var nearCache *service.NearCacheService
	if cfg.NearCache.Enabled {
		nearCache = service.NewNearCacheService(&service.NearCacheConfig{
			MaxSize:         cfg.NearCache.MaxSize,
			FrequencyWeight: cfg.NearCache.FrequencyWeight,
			RecencyWeight:   cfg.NearCache.RecencyWeight,
			AdaptiveWindow:  cfg.NearCache.AdaptiveWindow,
		}, generator, m, logger)
	}

	// Background workers
	taskPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "gmu-tasks",
		MaxWorkers: cfg.CommitQueue.Workers,
		QueueSize:  cfg.CommitQueue.QueueSize,
		Logger:     logger,
	})
	prometheus.MustRegister(workerpool.NewCollector(nodeID, taskPool))

	gc := service.NewGarbageCollectorService(&service.GarbageCollectorConfig{
		Interval:    cfg.GarbageCollector.Interval,
		MinRetained: cfg.GarbageCollector.MinRetained,
	}, commitLog, store, generator, nearCache, taskPool, m, logger)
	commitManager.SetListener(gc)

	// Reads
	tr := transport.NewInProcessTransport(taskPool, logger)
	factory := service.NewSnapshotEntryFactory(ownership, store, commitLog, generator, cfg.CommitLog.WaitTimeout, m, logger)
	remoteReader := service.NewRemoteReader(&service.RemoteReadConfig{
		Timeout:    cfg.RemoteRead.Timeout,
		MaxRetries: cfg.RemoteRead.MaxRetries,
	}, ownership, tr, generator, commitLog, nearCache, m, logger)
	reads := service.NewReadService(factory, remoteReader, logger)

	// Remote transaction lifecycle
	remoteTxTable, err := service.NewRemoteTransactionTable(cfg.Transaction.FinishedTxCacheSize, logger)
	if err != nil {
		logger.Fatal("Failed to create remote transaction table", zap.Error(err))
	}
	commitLog.TrackLiveSnapshots(remoteTxTable, commitManager)
	driver := service.NewTransactionDriver(remoteTxTable, commitManager, cfg.Transaction.PrepareWaitTimeout, m, logger)
	tr.Register(nodeID, service.NewCommandHandler(service.NewRemoteGetHandler(factory, generator, logger), driver, logger))

	applier.Start()
	gc.Start()

	// Initialize gossip service if enabled
	if cfg.Gossip.Enabled {
		gossipSvc, err := service.NewGossipService(
			&service.GossipConfig{
				Enabled:        cfg.Gossip.Enabled,
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			generator,
			commitLog,
			membership,
			logger,
		)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			defer gossipSvc.Shutdown()
			logger.Info("Gossip service initialized", zap.Strings("members", gossipSvc.Members()))
		}
	}

	// Metrics and probes
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, prometheus.DefaultGatherer, server.StatusFunc(func() (server.NodeStatus, error) {
			view := generator.CurrentView()
			return server.NodeStatus{
				NodeID:         nodeID,
				ViewID:         view.ViewID(),
				Members:        view.Size(),
				CurrentVersion: commitLog.GetCurrentVersion().String(),
				PendingCommits: commitManager.Len(),
			}, nil
		}), reads, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	// Create gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(server.UnaryErrorInterceptor(logger)))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Start listening
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	logger.Info("GMU node starting",
		zap.String("node_id", nodeID),
		zap.String("address", addr),
		zap.Int64("view_id", generator.CurrentView().ViewID()))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...")
		healthServer.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		gc.Stop()
		applier.Stop()
		if err := taskPool.Stop(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("Task pool did not drain", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(ctx); err != nil {
				logger.Error("Failed to stop metrics server", zap.Error(err))
			}
		}

		grpcServer.GracefulStop()
	}()

	// Start server
	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
}

// initLogger builds the zap logger from the logging configuration
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
