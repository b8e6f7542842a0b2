package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dipolesim/dipole-engine/internal/api"
	"github.com/dipolesim/dipole-engine/internal/engine"
	"github.com/dipolesim/dipole-engine/internal/metrics"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/repo"
	"github.com/dipolesim/dipole-engine/internal/sensors"
	"github.com/dipolesim/dipole-engine/internal/solver"
	"github.com/dipolesim/dipole-engine/internal/transform"
	"github.com/dipolesim/dipole-engine/internal/utils"
)

// Simulator is the pipeline behaviour the service exposes.
type Simulator interface {
	Simulate(ctx context.Context, q models.DipoleQuery) (engine.Result, error)
}

// ForwardService implements the gRPC ForwardEngine service.
type ForwardService struct {
	api.UnimplementedForwardEngineServer

	logger    *slog.Logger
	subject   string
	pipeline  *engine.Pipeline
	simulator Simulator
	latencies *utils.LatencyTracker
}

// NewForwardService constructs the service facade around a pipeline.
func NewForwardService(logger *slog.Logger, subject string, pipeline *engine.Pipeline) *ForwardService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ForwardService{
		logger:    logger,
		subject:   subject,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
	if pipeline != nil {
		s.simulator = pipeline
	}
	return s
}

// Simulate resolves one dipole query into an evoked signal.
func (s *ForwardService) Simulate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.simulator == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	requestID := req.GetFields()["request_id"].GetStringValue()
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := s.logger.With(slog.String("request_id", requestID))

	query, err := api.FromProtoQuery(req)
	if err != nil {
		metrics.ObserveQuery(metrics.OutcomeError)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	result, err := s.simulator.Simulate(ctx, query)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveQuery(metrics.OutcomeError)
		code := statusCode(err)
		logger.Warn("dipole simulation failed", slog.String("code", code.String()), slog.Any("error", err))
		return nil, status.Error(code, utils.UserMessage(utils.NewAppError("simulate", userMessage(code), err)))
	}
	metrics.ObserveQuery(metrics.OutcomeSuccess)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p50, p95, _ := s.latencies.Summary()
		logger.Info("simulation latency", slog.Duration("p50", p50), slog.Duration("p95", p95), slog.Int("samples", count))
	}

	out, err := api.ToProtoResult(requestID, result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Describe reports the subject, solution grid and channel layout.
func (s *ForwardService) Describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	layout := sensors.Layout{Subject: s.subject, Channels: s.pipeline.Channels()}
	out, err := api.ToProtoDescription(s.pipeline.Grid(), layout, s.pipeline.RASToHead())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func statusCode(err error) codes.Code {
	var fetchErr *repo.FetchError
	var chainErr *transform.ChainError
	switch {
	case errors.Is(err, repo.ErrOutOfVolume), errors.Is(err, solver.ErrNoSourcePoints):
		return codes.NotFound
	case errors.Is(err, engine.ErrDegenerateOrientation), errors.Is(err, engine.ErrInvalidQuery):
		return codes.InvalidArgument
	case errors.As(err, &fetchErr):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.As(err, &chainErr):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func userMessage(code codes.Code) string {
	switch code {
	case codes.NotFound:
		return "no forward solution at this location, try another"
	case codes.InvalidArgument:
		return "invalid dipole query"
	case codes.Unavailable:
		return "forward solution could not be retrieved"
	default:
		return "simulation failed"
	}
}
