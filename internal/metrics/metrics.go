package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels resolutions that produced a solution.
	OutcomeSuccess = "success"
	// OutcomeError labels failed resolutions.
	OutcomeError = "error"
)

// Resolution sources.
const (
	SourceIndex  = "index"
	SourceCache  = "cache"
	SourceRemote = "remote"
	SourceExact  = "exact"
)

// Batch point results.
const (
	PointSolved  = "solved"
	PointCached  = "cached"
	PointOutside = "outside"
	PointFailed  = "failed"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dipole_engine",
			Name:      "resolutions_total",
			Help:      "Forward-solution resolutions, partitioned by the source that answered and outcome.",
		},
		[]string{"source", "outcome"},
	)

	resolveDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dipole_engine",
			Name:      "resolve_seconds",
			Help:      "Forward-solution resolution latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"source"},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dipole_engine",
			Name:      "queries_total",
			Help:      "Dipole queries handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dipole_engine",
			Name:      "batch_points_total",
			Help:      "Grid points processed by batch generation, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		resolutionsTotal,
		resolveDurationSeconds,
		queriesTotal,
		batchPointsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveResolution records which source answered a resolution and how long it took.
func ObserveResolution(source string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	resolutionsTotal.WithLabelValues(source, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	resolveDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveQuery records a completed dipole query.
func ObserveQuery(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	queriesTotal.WithLabelValues(label).Inc()
}

// ObserveBatchPoint records one batch grid point result.
func ObserveBatchPoint(result string) {
	batchPointsTotal.WithLabelValues(result).Inc()
}
