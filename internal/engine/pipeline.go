// Package engine turns dipole queries into sensor-space signals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// ErrInvalidQuery wraps validation failures of incoming queries.
var ErrInvalidQuery = errors.New("invalid dipole query")

// Resolver defines the forward-solution lookups used by the pipeline.
type Resolver interface {
	Resolve(ctx context.Context, key grid.Key) (*models.ForwardSolution, error)
	ResolveExact(ctx context.Context, position transform.Point3) (*models.ForwardSolution, error)
}

// Result is the outcome of one simulated dipole.
type Result struct {
	Signal models.EvokedSignal
	// Requested is the query position in the head frame (m), rounded.
	Requested transform.Point3
	// Resolved is the position the leadfield was computed for.
	Resolved transform.Point3
	// Anatomical is the query position in RAS millimeters; nil for
	// head-frame queries.
	Anatomical *transform.Point3
	Key        grid.Key
	Exact      bool
}

// RequestedLabel formats the requested position for display.
func (r Result) RequestedLabel() string { return transform.FormatPoint(r.Requested) }

// ResolvedLabel formats the resolved position for display.
func (r Result) ResolvedLabel() string { return transform.FormatPoint(r.Resolved) }

// Pipeline runs transform, snap, resolve and project for one query at a time.
type Pipeline struct {
	logger    *slog.Logger
	resolver  Resolver
	grid      grid.SpatialGrid
	rasToHead *transform.Affine
	channels  []models.Channel
}

// NewPipeline constructs a pipeline. rasToHead may be nil, in which case only
// head-frame queries are accepted; otherwise it must map anatomical_ras to
// sensor_head.
func NewPipeline(logger *slog.Logger, resolver Resolver, g grid.SpatialGrid, rasToHead *transform.Affine, channels []models.Channel) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rasToHead != nil && (rasToHead.From != transform.AnatomicalRAS || rasToHead.To != transform.SensorHead) {
		return nil, &transform.ChainError{Msg: fmt.Sprintf("RAS to head transform maps %s->%s, want %s->%s",
			rasToHead.From, rasToHead.To, transform.AnatomicalRAS, transform.SensorHead)}
	}
	return &Pipeline{
		logger:    logger,
		resolver:  resolver,
		grid:      g,
		rasToHead: rasToHead,
		channels:  channels,
	}, nil
}

// Grid returns the solution grid queries snap onto.
func (p *Pipeline) Grid() grid.SpatialGrid { return p.grid }

// Channels returns the channel layout of projected signals.
func (p *Pipeline) Channels() []models.Channel { return p.channels }

// RASToHead returns the anatomical to head transform, or nil when only
// head-frame queries are served.
func (p *Pipeline) RASToHead() *transform.Affine { return p.rasToHead }

// Simulate resolves a leadfield for the query and projects the dipole through it.
func (p *Pipeline) Simulate(ctx context.Context, q models.DipoleQuery) (Result, error) {
	if p.resolver == nil {
		return Result{}, fmt.Errorf("resolver not configured")
	}
	if err := q.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	position, orientation, err := p.toHead(q)
	if err != nil {
		return Result{}, err
	}
	if _, err := UnitOrientation(orientation); err != nil {
		return Result{}, err
	}
	position = transform.RoundPoint(position, grid.Decimals)

	result := Result{Requested: position, Exact: q.Exact}
	if q.SourceFrame == transform.AnatomicalRAS {
		ras := q.Position
		result.Anatomical = &ras
	}
	var sol *models.ForwardSolution
	if q.Exact {
		result.Resolved = position
		p.logger.Info("computing exact forward solution",
			slog.String("requested", result.RequestedLabel()))
		sol, err = p.resolver.ResolveExact(ctx, position)
	} else {
		if p.grid.Len() == 0 {
			return Result{}, fmt.Errorf("solution grid not configured")
		}
		result.Key = grid.Snap(position, p.grid)
		result.Resolved = result.Key.Point()
		p.logger.Info("resolving dipole on solution grid",
			slog.String("requested", result.RequestedLabel()),
			slog.String("resolved", result.ResolvedLabel()))
		sol, err = p.resolver.Resolve(ctx, result.Key)
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve forward solution: %w", err)
	}

	signal, err := Project(sol, orientation, q.Amplitude, p.channels)
	if err != nil {
		return Result{}, err
	}
	result.Signal = signal
	return result, nil
}

// toHead moves the query into the head frame in meters. Units change only
// after the geometric transform has been applied.
func (p *Pipeline) toHead(q models.DipoleQuery) (transform.Point3, transform.Direction3, error) {
	switch q.SourceFrame {
	case transform.SensorHead:
		return q.Position, q.Orientation, nil
	case transform.AnatomicalRAS:
		if p.rasToHead == nil {
			return transform.Point3{}, transform.Direction3{}, fmt.Errorf("%w: anatomical queries need the RAS to head transform", ErrInvalidQuery)
		}
		pos := transform.ApplyPoint(*p.rasToHead, q.Position)
		ori := transform.ApplyDirection(*p.rasToHead, q.Orientation)
		return transform.MillimetersToMeters(pos), ori, nil
	default:
		return transform.Point3{}, transform.Direction3{}, fmt.Errorf("%w: unsupported frame %q", ErrInvalidQuery, q.SourceFrame)
	}
}
