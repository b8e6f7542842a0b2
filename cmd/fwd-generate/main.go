package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dipolesim/dipole-engine/internal/batch"
	"github.com/dipolesim/dipole-engine/internal/cache"
	"github.com/dipolesim/dipole-engine/internal/config"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/index"
	"github.com/dipolesim/dipole-engine/internal/repo"
	"github.com/dipolesim/dipole-engine/internal/sensors"
	"github.com/dipolesim/dipole-engine/internal/solver"
	"github.com/dipolesim/dipole-engine/internal/utils"
)

func main() {
	var (
		configPath string
		steps      int
		workers    int
		output     string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.IntVar(&steps, "steps", 0, "Grid values per axis (overrides batch.steps)")
	flag.IntVar(&workers, "workers", 0, "Concurrent solver runs (overrides batch.workers)")
	flag.StringVar(&output, "output", "", "Lookup index to write; .csv or .db (overrides batch.output)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if steps > 0 {
		cfg.Batch.Steps = steps
	}
	if workers > 0 {
		cfg.Batch.Workers = workers
	}
	if output != "" {
		cfg.Batch.Output = output
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	if err := run(cfg, logger); err != nil {
		logger.Error("forward solution generation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := sensors.Load(cfg.Data.SensorLayout)
	if err != nil {
		return err
	}
	positions, err := layout.Positions()
	if err != nil {
		return err
	}
	solutionGrid, err := grid.Build(positions, cfg.Batch.Steps)
	if err != nil {
		return err
	}

	exact, err := solver.NewCommandSolver(cfg.Solver.Command, cfg.Solver.Args, cfg.Solver.Timeout)
	if err != nil {
		return utils.NewAppError("fwd-generate", "solver.command must name the exact solver", err)
	}

	store, err := cache.NewDiskProvider(cfg.Data.CacheDir)
	if err != nil {
		return err
	}
	bemStore, err := cache.NewDiskProvider(cfg.Data.BEMDir)
	if err != nil {
		return err
	}

	var remote repo.Fetcher
	if cfg.Remote.BaseURL != "" {
		remote = repo.NewRemoteClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	}
	bemPath, err := repo.NewForwardRepository(repo.Options{
		Subject:  cfg.Subject,
		Remote:   remote,
		BEMStore: bemStore,
		Logger:   logger,
	}).EnsureBEM(ctx)
	if err != nil {
		return err
	}

	gen, err := batch.NewGenerator(batch.Options{
		Subject: cfg.Subject,
		Grid:    solutionGrid,
		Solver:  exact,
		Store:   store,
		BEMPath: bemPath,
		Workers: cfg.Batch.Workers,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	report, err := gen.Run(ctx)
	if err != nil {
		return err
	}

	if err := index.Save(cfg.Batch.Output, report.Index); err != nil {
		return utils.NewAppError("fwd-generate", "write lookup index", err)
	}
	logger.Info("lookup index written",
		slog.String("path", cfg.Batch.Output),
		slog.Int("points", report.Index.Len()),
		slog.Int("solutions", report.Index.Count()))
	return nil
}
