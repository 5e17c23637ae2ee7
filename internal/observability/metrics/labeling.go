package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/carnet-go/internal/classify"
	"github.com/tphakala/carnet-go/internal/labeler"
)

// LabelingMetrics tracks the labelling agent and its classifier.
type LabelingMetrics struct {
	Files            *prometheus.CounterVec
	ClassifyRequests *prometheus.CounterVec
	ClassifyDuration prometheus.Histogram
	TokenRotations   prometheus.Counter
	TokenIndex       prometheus.Gauge
	PoolExhausted    prometheus.Counter
}

// NewLabelingMetrics creates the collectors and registers them.
func NewLabelingMetrics(registry prometheus.Registerer) (*LabelingMetrics, error) {
	m := &LabelingMetrics{
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carnet_label_files_total",
			Help: "Total number of attempted files by outcome.",
		}, []string{"status"}),
		ClassifyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carnet_classify_requests_total",
			Help: "Total number of classify calls by result kind.",
		}, []string{"kind", "cached"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carnet_classify_duration_seconds",
			Help:    "Duration of classify calls in seconds, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		TokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carnet_label_token_rotations_total",
			Help: "Total number of token rotations after quota exhaustion.",
		}),
		TokenIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carnet_label_token_index",
			Help: "Index of the token currently in use.",
		}),
		PoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carnet_label_pool_exhausted_total",
			Help: "Total number of walks aborted because every token was exhausted.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register labeling metrics: %w", err)
	}
	return m, nil
}

// ObserveClassify implements classify.Recorder.
func (m *LabelingMetrics) ObserveClassify(kind string, cached bool, elapsed time.Duration) {
	m.ClassifyRequests.WithLabelValues(kind, strconv.FormatBool(cached)).Inc()
	if !cached {
		m.ClassifyDuration.Observe(elapsed.Seconds())
	}
}

// OnFile implements labeler.FileObserver.
func (m *LabelingMetrics) OnFile(rec labeler.LabelRecord) {
	m.Files.WithLabelValues(rec.Status).Inc()
}

// OnRotation implements labeler.RotationObserver.
func (m *LabelingMetrics) OnRotation(_, to int) {
	m.TokenRotations.Inc()
	m.TokenIndex.Set(float64(to))
}

// OnLabelComplete implements labeler.Observer.
func (m *LabelingMetrics) OnLabelComplete(_ context.Context, summary labeler.Summary) error {
	m.TokenIndex.Set(float64(summary.TokenIndex))
	if summary.Exhausted {
		m.PoolExhausted.Inc()
	}
	return nil
}

// Describe implements the prometheus.Collector interface.
func (m *LabelingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Files.Describe(ch)
	m.ClassifyRequests.Describe(ch)
	m.ClassifyDuration.Describe(ch)
	m.TokenRotations.Describe(ch)
	m.TokenIndex.Describe(ch)
	m.PoolExhausted.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *LabelingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Files.Collect(ch)
	m.ClassifyRequests.Collect(ch)
	m.ClassifyDuration.Collect(ch)
	m.TokenRotations.Collect(ch)
	m.TokenIndex.Collect(ch)
	m.PoolExhausted.Collect(ch)
}

var (
	_ classify.Recorder        = (*LabelingMetrics)(nil)
	_ labeler.Observer         = (*LabelingMetrics)(nil)
	_ labeler.FileObserver     = (*LabelingMetrics)(nil)
	_ labeler.RotationObserver = (*LabelingMetrics)(nil)
)
