// Package batch precomputes forward solutions over the whole solution grid
// and records which grid points have one.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dipolesim/dipole-engine/internal/cache"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/index"
	"github.com/dipolesim/dipole-engine/internal/metrics"
	"github.com/dipolesim/dipole-engine/internal/solver"
)

// DefaultWorkers bounds concurrent solver invocations.
const DefaultWorkers = 8

// Options configures a generation run.
type Options struct {
	Subject string
	Grid    grid.SpatialGrid
	Solver  solver.Solver
	Store   cache.Provider
	BEMPath string
	Workers int
	Logger  *slog.Logger
}

// PointResult is the outcome for one grid point.
type PointResult struct {
	Key    grid.Key
	Exists bool
	Cached bool
}

// Report summarises a completed run.
type Report struct {
	Results  []PointResult
	Index    *index.Index
	Solved   int
	Cached   int
	Outside  int
	Duration time.Duration
}

// Generator runs the exact solver over every grid point.
type Generator struct {
	opts Options
}

// NewGenerator validates options and applies defaults.
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Solver == nil {
		return nil, errors.New("batch: solver is required")
	}
	if opts.Store == nil {
		return nil, errors.New("batch: cache store is required")
	}
	if opts.Grid.Len() == 0 {
		return nil, errors.New("batch: empty grid")
	}
	if opts.Workers <= 0 {
		opts.Workers = min(DefaultWorkers, runtime.NumCPU())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{opts: opts}, nil
}

// Run processes all points. Points outside the modeled volume are recorded as
// missing; any other solver failure cancels the run. The index is assembled
// only after every worker has finished.
func (g *Generator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	keys := g.opts.Grid.Points()
	results := make([]PointResult, len(keys))

	g.opts.Logger.Info("starting forward solution generation",
		slog.String("subject", g.opts.Subject),
		slog.Int("points", len(keys)),
		slog.Int("workers", g.opts.Workers))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i, key := range keys {
		i, key := i, key
		eg.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := g.solvePoint(gctx, key)
			if err != nil {
				metrics.ObserveBatchPoint(metrics.PointFailed)
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Report{}, fmt.Errorf("batch generation: %w", err)
	}

	report := Report{Results: results, Index: index.New()}
	for _, res := range results {
		if err := report.Index.Add(res.Key, res.Exists); err != nil {
			return Report{}, fmt.Errorf("batch generation: %w", err)
		}
		switch {
		case !res.Exists:
			report.Outside++
		case res.Cached:
			report.Cached++
		default:
			report.Solved++
		}
	}
	report.Duration = time.Since(start)

	g.opts.Logger.Info("forward solution generation finished",
		slog.Int("solved", report.Solved),
		slog.Int("cached", report.Cached),
		slog.Int("outside", report.Outside),
		slog.Duration("elapsed", report.Duration))
	return report, nil
}

func (g *Generator) solvePoint(ctx context.Context, key grid.Key) (PointResult, error) {
	name := key.Filename(g.opts.Subject)
	if _, err := g.opts.Store.Get(ctx, name); err == nil {
		metrics.ObserveBatchPoint(metrics.PointCached)
		return PointResult{Key: key, Exists: true, Cached: true}, nil
	}

	g.opts.Logger.Debug("processing forward solution", slog.String("location", key.String()))
	sol, err := g.opts.Solver.Solve(ctx, solver.Request{
		Subject:  g.opts.Subject,
		Position: key.Point(),
		BEMPath:  g.opts.BEMPath,
	})
	if errors.Is(err, solver.ErrNoSourcePoints) {
		g.opts.Logger.Debug("skipping location outside skull", slog.String("location", key.String()))
		metrics.ObserveBatchPoint(metrics.PointOutside)
		return PointResult{Key: key}, nil
	}
	if err != nil {
		return PointResult{}, fmt.Errorf("location %s: %w", key, err)
	}

	data, err := sol.MarshalBinary()
	if err != nil {
		return PointResult{}, fmt.Errorf("location %s: encode: %w", key, err)
	}
	if _, err := g.opts.Store.SetNX(ctx, name, data); err != nil {
		return PointResult{}, fmt.Errorf("location %s: store: %w", key, err)
	}
	metrics.ObserveBatchPoint(metrics.PointSolved)
	return PointResult{Key: key, Exists: true}, nil
}
