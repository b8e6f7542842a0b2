// Package repo resolves grid keys to forward solutions: through the lookup
// index, the local cache and finally the remote repository. It also owns the
// exact-solve path, which bypasses all of them.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dipolesim/dipole-engine/internal/cache"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/index"
	"github.com/dipolesim/dipole-engine/internal/metrics"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/solver"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// ErrOutOfVolume reports that the index marks a key as having no solution.
var ErrOutOfVolume = errors.New("no forward solution in source volume")

// LocationError ties a resolution failure to the grid key requested.
type LocationError struct {
	Key grid.Key
	Err error
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("location %s [m, head]: %v", e.Key, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Fetcher downloads files from the remote repository.
type Fetcher interface {
	FetchSolution(ctx context.Context, subject string, key grid.Key) ([]byte, error)
	FetchBEM(ctx context.Context, subject string) ([]byte, error)
}

// Options configures a ForwardRepository.
type Options struct {
	Subject   string
	IndexPath string
	Cache     cache.Provider
	Remote    Fetcher
	Solver    solver.Solver
	BEMStore  *cache.DiskProvider
	Logger    *slog.Logger
}

// ForwardRepository resolves forward solutions for one subject.
type ForwardRepository struct {
	subject   string
	indexPath string
	index     *index.Index
	cache     cache.Provider
	remote    Fetcher
	solver    solver.Solver
	bemStore  *cache.DiskProvider
	logger    *slog.Logger
}

// NewForwardRepository constructs a repository. Call Load before Resolve to
// enable the index veto.
func NewForwardRepository(opts Options) *ForwardRepository {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	return &ForwardRepository{
		subject:   opts.Subject,
		indexPath: opts.IndexPath,
		cache:     opts.Cache,
		remote:    opts.Remote,
		solver:    opts.Solver,
		bemStore:  opts.BEMStore,
		logger:    opts.Logger,
	}
}

// Subject returns the subject the repository serves.
func (r *ForwardRepository) Subject() string { return r.subject }

// Load reads the lookup index from disk. Without an index path every key is
// treated as possibly resolvable.
func (r *ForwardRepository) Load() error {
	if r.indexPath == "" {
		r.logger.Warn("no lookup index configured; every grid key will be tried")
		return nil
	}
	ix, err := index.Load(r.indexPath)
	if err != nil {
		return fmt.Errorf("load lookup index: %w", err)
	}
	r.index = ix
	r.logger.Info("lookup index loaded",
		slog.String("path", r.indexPath),
		slog.Int("keys", ix.Len()),
		slog.Int("solutions", ix.Count()))
	return nil
}

// UseIndex installs an already-loaded index.
func (r *ForwardRepository) UseIndex(ix *index.Index) {
	r.index = ix
}

// Resolve returns the forward solution for a grid key.
func (r *ForwardRepository) Resolve(ctx context.Context, key grid.Key) (*models.ForwardSolution, error) {
	start := time.Now()

	if exists, known := r.index.Lookup(key); known && !exists {
		err := &LocationError{Key: key, Err: ErrOutOfVolume}
		metrics.ObserveResolution(metrics.SourceIndex, time.Since(start), err)
		return nil, err
	}

	name := key.Filename(r.subject)
	data, err := r.cache.Get(ctx, name)
	switch {
	case err == nil:
		sol, decodeErr := models.DecodeForwardSolution(data)
		if decodeErr == nil {
			r.logger.Debug("using cached forward solution", slog.String("file", name))
			metrics.ObserveResolution(metrics.SourceCache, time.Since(start), nil)
			return sol, nil
		}
		r.logger.Warn("cached forward solution is corrupt; replacing it",
			slog.String("file", name), slog.Any("error", decodeErr))
		if err := r.cache.Delete(ctx, name); err != nil {
			r.logger.Warn("could not drop corrupt cache entry", slog.String("file", name), slog.Any("error", err))
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		r.logger.Warn("cache read failed; falling back to remote", slog.String("file", name), slog.Any("error", err))
	}

	sol, err := r.fetch(ctx, key, name)
	metrics.ObserveResolution(metrics.SourceRemote, time.Since(start), err)
	return sol, err
}

func (r *ForwardRepository) fetch(ctx context.Context, key grid.Key, name string) (*models.ForwardSolution, error) {
	if r.remote == nil {
		return nil, &LocationError{Key: key, Err: fmt.Errorf("%s not cached and no remote repository configured", name)}
	}
	r.logger.Info("retrieving forward solution from remote repository", slog.String("file", name))

	data, err := r.remote.FetchSolution(ctx, r.subject, key)
	if err != nil {
		return nil, &LocationError{Key: key, Err: err}
	}
	sol, err := models.DecodeForwardSolution(data)
	if err != nil {
		return nil, &LocationError{Key: key, Err: fmt.Errorf("remote %s: %w", name, err)}
	}
	if _, err := r.cache.SetNX(ctx, name, data); err != nil {
		r.logger.Warn("could not persist forward solution", slog.String("file", name), slog.Any("error", err))
	}
	return sol, nil
}

// ResolveExact computes a solution for the exact head-frame position with the
// boundary-element solver. It neither consults nor populates the cache.
func (r *ForwardRepository) ResolveExact(ctx context.Context, position transform.Point3) (*models.ForwardSolution, error) {
	start := time.Now()
	sol, err := r.resolveExact(ctx, position)
	metrics.ObserveResolution(metrics.SourceExact, time.Since(start), err)
	return sol, err
}

func (r *ForwardRepository) resolveExact(ctx context.Context, position transform.Point3) (*models.ForwardSolution, error) {
	if r.solver == nil {
		return nil, errors.New("exact solve requested but no solver configured")
	}
	bemPath, err := r.EnsureBEM(ctx)
	if err != nil {
		return nil, err
	}
	return r.solver.Solve(ctx, solver.Request{Subject: r.subject, Position: position, BEMPath: bemPath})
}

// EnsureBEM returns the local path of the subject's BEM solution, downloading
// it first when missing.
func (r *ForwardRepository) EnsureBEM(ctx context.Context) (string, error) {
	if r.bemStore == nil {
		return "", nil
	}
	name := BEMFilename(r.subject)
	path := r.bemStore.Path(name)
	if _, err := os.Stat(path); err == nil {
		r.logger.Debug("using existing BEM solution", slog.String("path", path))
		return path, nil
	}
	if r.remote == nil {
		return "", fmt.Errorf("BEM solution %s missing and no remote repository configured", path)
	}

	r.logger.Info("retrieving BEM solution from remote repository", slog.String("file", name))
	data, err := r.remote.FetchBEM(ctx, r.subject)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve the BEM solution: %w", err)
	}
	if _, err := r.bemStore.SetNX(ctx, name, data); err != nil {
		return "", fmt.Errorf("store BEM solution: %w", err)
	}
	return path, nil
}
