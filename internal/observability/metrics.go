package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// fusion pipeline.
type Metrics struct {
	MeasurementsConsumed prometheus.Counter
	NormalizeErrors      prometheus.Counter
	PipelineRunning      prometheus.Gauge

	// Fusion and averaging metrics.
	ReadingsFused        prometheus.Counter
	FusionConfidence     prometheus.Histogram
	UncorrectedReadings  prometheus.Counter
	InsufficientWindows  *prometheus.CounterVec // labels: pollutant
	SnapshotsProduced    prometheus.Counter
	TierExceededTotal    prometheus.Counter
	FlushDuration        prometheus.Histogram

	// Forecast metrics.
	ForecastsProduced prometheus.Counter
	ForecastErrors    prometheus.Counter

	// Alert metrics.
	IntentsEmitted     *prometheus.CounterVec // labels: policy
	AlertsSuppressed   *prometheus.CounterVec // labels: reason
	IntentDeliveryErrs prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MeasurementsConsumed,
		m.NormalizeErrors,
		m.PipelineRunning,
		m.ReadingsFused,
		m.FusionConfidence,
		m.UncorrectedReadings,
		m.InsufficientWindows,
		m.SnapshotsProduced,
		m.TierExceededTotal,
		m.FlushDuration,
		m.ForecastsProduced,
		m.ForecastErrors,
		m.IntentsEmitted,
		m.AlertsSuppressed,
		m.IntentDeliveryErrs,
	)
	return m
}

// NewMetricsForTesting creates Metrics without touching the default
// registry to avoid "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MeasurementsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "measurements_consumed_total",
			Help:      "Total raw measurements read from the source topic.",
		}),
		NormalizeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "normalize_errors_total",
			Help:      "Total measurements dropped during normalization.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aqi_fusion",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		ReadingsFused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "readings_fused_total",
			Help:      "Total fused readings produced across all pollutants.",
		}),
		FusionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aqi_fusion",
			Name:      "fusion_confidence",
			Help:      "Confidence score distribution of fused readings.",
			Buckets:   []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99},
		}),
		UncorrectedReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "uncorrected_readings_total",
			Help:      "Measurements passed through without a bias correction pair.",
		}),
		InsufficientWindows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "insufficient_windows_total",
			Help:      "Averaging windows skipped for incompleteness, by pollutant.",
		}, []string{"pollutant"}),
		SnapshotsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "snapshots_produced_total",
			Help:      "Total AQI snapshots published.",
		}),
		TierExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "tier_exceeded_total",
			Help:      "Snapshots with a concentration above the top EPA breakpoint.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aqi_fusion",
			Name:      "flush_duration_seconds",
			Help:      "Duration of a complete per-location-hour pipeline flush.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ForecastsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "forecasts_produced_total",
			Help:      "Total forecast points published.",
		}),
		ForecastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "forecast_errors_total",
			Help:      "Forecast projections abandoned due to collaborator errors.",
		}),
		IntentsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "intents_emitted_total",
			Help:      "Notification intents emitted, by frequency policy.",
		}, []string{"policy"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "alerts_suppressed_total",
			Help:      "Alert evaluations suppressed, by reason.",
		}, []string{"reason"}),
		IntentDeliveryErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqi_fusion",
			Name:      "intent_delivery_errors_total",
			Help:      "Intent publishes that failed at the broker.",
		}),
	}
}
