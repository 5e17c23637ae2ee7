// Package metrics provides Prometheus collectors for training and labelling.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/carnet-go/internal/trainer"
)

// TrainingMetrics tracks training progress. It is registered as a trainer
// observer.
type TrainingMetrics struct {
	Epochs          prometheus.Counter
	LearningRate    prometheus.Gauge
	TestLoss        prometheus.Gauge
	BestLoss        prometheus.Gauge
	BatchDuration   prometheus.Histogram
	BatchLoss       prometheus.Gauge
	CheckpointSaves *prometheus.CounterVec
	Runs            *prometheus.CounterVec
}

// NewTrainingMetrics creates the collectors and registers them.
func NewTrainingMetrics(registry prometheus.Registerer) (*TrainingMetrics, error) {
	m := &TrainingMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register training metrics: %w", err)
	}
	return m, nil
}

func (m *TrainingMetrics) initMetrics() {
	m.Epochs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carnet_train_epochs_total",
		Help: "Total number of completed training epochs.",
	})
	m.LearningRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carnet_train_learning_rate",
		Help: "Current optimizer learning rate.",
	})
	m.TestLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carnet_train_test_loss",
		Help: "Average test loss of the latest epoch.",
	})
	m.BestLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carnet_train_best_loss",
		Help: "Lowest test loss seen so far.",
	})
	m.BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "carnet_train_batch_duration_seconds",
		Help:    "Duration of one optimizer step in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	m.BatchLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carnet_train_batch_loss",
		Help: "Loss of the latest training batch.",
	})
	m.CheckpointSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carnet_train_checkpoint_saves_total",
		Help: "Total number of checkpoint writes by kind.",
	}, []string{"kind"})
	m.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carnet_train_runs_total",
		Help: "Total number of finished training runs by status.",
	}, []string{"status"})
}

// OnEpoch implements trainer.Observer.
func (m *TrainingMetrics) OnEpoch(_ context.Context, rec trainer.EpochRecord) error {
	m.Epochs.Inc()
	m.LearningRate.Set(rec.LearningRate)
	m.TestLoss.Set(rec.TestLoss)
	m.BestLoss.Set(rec.BestLoss)
	return nil
}

// OnRunComplete implements trainer.Observer.
func (m *TrainingMetrics) OnRunComplete(_ context.Context, summary trainer.RunSummary) error {
	m.Runs.WithLabelValues(summary.Status).Inc()
	m.LearningRate.Set(summary.LearningRate)
	m.BestLoss.Set(summary.BestLoss)
	return nil
}

// OnBatch implements trainer.BatchObserver.
func (m *TrainingMetrics) OnBatch(_, _ int, loss float64, elapsed time.Duration) {
	m.BatchDuration.Observe(elapsed.Seconds())
	m.BatchLoss.Set(loss)
}

// OnCheckpoint implements trainer.CheckpointObserver.
func (m *TrainingMetrics) OnCheckpoint(kind, _ string) {
	m.CheckpointSaves.WithLabelValues(kind).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *TrainingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Epochs.Describe(ch)
	m.LearningRate.Describe(ch)
	m.TestLoss.Describe(ch)
	m.BestLoss.Describe(ch)
	m.BatchDuration.Describe(ch)
	m.BatchLoss.Describe(ch)
	m.CheckpointSaves.Describe(ch)
	m.Runs.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *TrainingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Epochs.Collect(ch)
	m.LearningRate.Collect(ch)
	m.TestLoss.Collect(ch)
	m.BestLoss.Collect(ch)
	m.BatchDuration.Collect(ch)
	m.BatchLoss.Collect(ch)
	m.CheckpointSaves.Collect(ch)
	m.Runs.Collect(ch)
}

var (
	_ trainer.Observer           = (*TrainingMetrics)(nil)
	_ trainer.BatchObserver      = (*TrainingMetrics)(nil)
	_ trainer.CheckpointObserver = (*TrainingMetrics)(nil)
)
