package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	trainingLoss *prometheus.GaugeVec
	predictions  *prometheus.CounterVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlass_stage_errors_total",
				Help: "Total number of pipeline stage failures",
			},
			[]string{"stage"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mlass_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		trainingLoss: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mlass_training_loss",
				Help: "Final epoch loss of the last training run per instance",
			},
			[]string{"instance_id"},
		),
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlass_predictions_total",
				Help: "Total number of predicted values served",
			},
			[]string{"instance_id"},
		),
	}
}

// RecordError records a failed pipeline stage.
func (r *Recorder) RecordError(stage string) {
	r.errorsTotal.WithLabelValues(stage).Inc()
}

// RecordLatency records stage latency in seconds.
func (r *Recorder) RecordLatency(stage string, seconds float64) {
	r.latency.WithLabelValues(stage).Observe(seconds)
}

// RecordTrainingLoss records the final loss of a training run.
func (r *Recorder) RecordTrainingLoss(instanceID string, loss float64) {
	r.trainingLoss.WithLabelValues(instanceID).Set(loss)
}

// RecordPredictions adds n served predictions.
func (r *Recorder) RecordPredictions(instanceID string, n int) {
	r.predictions.WithLabelValues(instanceID).Add(float64(n))
}
