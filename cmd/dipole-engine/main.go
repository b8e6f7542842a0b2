package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dipolesim/dipole-engine/internal/api"
	"github.com/dipolesim/dipole-engine/internal/cache"
	"github.com/dipolesim/dipole-engine/internal/config"
	"github.com/dipolesim/dipole-engine/internal/engine"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/metrics"
	"github.com/dipolesim/dipole-engine/internal/repo"
	"github.com/dipolesim/dipole-engine/internal/sensors"
	"github.com/dipolesim/dipole-engine/internal/services"
	"github.com/dipolesim/dipole-engine/internal/solver"
	"github.com/dipolesim/dipole-engine/internal/transform"
	"github.com/dipolesim/dipole-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting dipole-engine", slog.String("address", cfg.Server.Address), slog.String("subject", cfg.Subject))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	layout, err := sensors.Load(cfg.Data.SensorLayout)
	if err != nil {
		logger.Error("failed to load sensor layout", slog.Any("error", err))
		os.Exit(1)
	}
	positions, err := layout.Positions()
	if err != nil {
		logger.Error("sensor layout unusable", slog.Any("error", err))
		os.Exit(1)
	}
	solutionGrid, err := grid.Build(positions, cfg.Grid.Steps)
	if err != nil {
		logger.Error("failed to build solution grid", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("solution grid ready", slog.Int("steps", cfg.Grid.Steps), slog.Int("points", solutionGrid.Len()))

	var rasToHead *transform.Affine
	if cfg.Data.Transforms != "" {
		inputs, err := transform.LoadInputs(cfg.Data.Transforms)
		if err != nil {
			logger.Error("failed to load transforms", slog.Any("error", err))
			os.Exit(1)
		}
		t, err := inputs.RASToHead()
		if err != nil {
			logger.Error("transforms do not chain", slog.Any("error", err))
			os.Exit(1)
		}
		rasToHead = &t
	} else {
		logger.Warn("no transforms configured; only sensor_head queries will be accepted")
	}

	forwardRepo, closeCache, err := buildRepository(cfg, logger)
	if err != nil {
		logger.Error("failed to set up forward repository", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCache()
	if err := forwardRepo.Load(); err != nil {
		logger.Error("failed to load lookup index", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline, err := engine.NewPipeline(logger, forwardRepo, solutionGrid, rasToHead, layout.Channels)
	if err != nil {
		logger.Error("failed to build simulation pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	forwardService := services.NewForwardService(logger, cfg.Subject, pipeline)

	server, err := api.NewServer(cfg.Server, forwardService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("dipole-engine stopped")
}

// buildRepository wires the cache tiers, remote client and exact solver.
func buildRepository(cfg *config.Config, logger *slog.Logger) (*repo.ForwardRepository, func(), error) {
	disk, err := cache.NewDiskProvider(cfg.Data.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	var provider cache.Provider = disk
	if cfg.Cache.Memory {
		provider = cache.NewTiered(cache.NewMemoryProvider(cfg.Cache.MemoryEntries), disk)
	}

	var bemStore *cache.DiskProvider
	if cfg.Data.BEMDir != "" {
		if bemStore, err = cache.NewDiskProvider(cfg.Data.BEMDir); err != nil {
			return nil, nil, err
		}
	}

	var remote repo.Fetcher
	if cfg.Remote.BaseURL != "" {
		remote = repo.NewRemoteClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	} else {
		logger.Warn("no remote repository configured; only cached solutions can be served")
	}

	var exact solver.Solver
	if cfg.Solver.Command != "" {
		cmdSolver, err := solver.NewCommandSolver(cfg.Solver.Command, cfg.Solver.Args, cfg.Solver.Timeout)
		if err != nil {
			return nil, nil, err
		}
		exact = cmdSolver
	}

	r := repo.NewForwardRepository(repo.Options{
		Subject:   cfg.Subject,
		IndexPath: cfg.Data.IndexPath,
		Cache:     provider,
		Remote:    remote,
		Solver:    exact,
		BEMStore:  bemStore,
		Logger:    logger,
	})
	closeFn := func() {
		if err := provider.Close(); err != nil {
			logger.Warn("cache close", slog.Any("error", err))
		}
	}
	return r, closeFn, nil
}
