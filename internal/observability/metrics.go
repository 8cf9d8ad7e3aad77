// Package observability provides Prometheus metrics for wind map runs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a wind map run.
type Metrics struct {
	Intersections      *prometheus.CounterVec   // labels: outcome={overlap,none,invalid}
	ArtifactsWritten   prometheus.Counter
	FeaturesWritten    prometheus.Counter
	ArtifactsPublished prometheus.Counter
	LayerFailures      *prometheus.CounterVec   // labels: phase={download,contour,partition}
	StageDuration      *prometheus.HistogramVec // labels: stage
	CatalogBoundaries  prometheus.Gauge
	RunSuccess         prometheus.Gauge
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Intersections,
		m.ArtifactsWritten,
		m.FeaturesWritten,
		m.ArtifactsPublished,
		m.LayerFailures,
		m.StageDuration,
		m.CatalogBoundaries,
		m.RunSuccess,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Intersections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_wind",
			Name:      "intersections_total",
			Help:      "Boundary/contour intersections by outcome.",
		}, []string{"outcome"}),
		ArtifactsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_wind",
			Name:      "artifacts_written_total",
			Help:      "Per-boundary artifact files written.",
		}),
		FeaturesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_wind",
			Name:      "features_written_total",
			Help:      "Conflict features written across all artifacts.",
		}),
		ArtifactsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_wind",
			Name:      "artifacts_published_total",
			Help:      "Artifact notifications published to Kafka.",
		}),
		LayerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_wind",
			Name:      "layer_failures_total",
			Help:      "Layer failures by phase.",
		}, []string{"phase"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storm_wind",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each run stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		CatalogBoundaries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_wind",
			Name:      "catalog_boundaries",
			Help:      "Boundaries loaded from the catalog.",
		}),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_wind",
			Name:      "run_success",
			Help:      "1 when the last run completed without a fatal error, 0 otherwise.",
		}),
	}
}
