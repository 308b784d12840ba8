package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.RecordError("train_model")
	r.RecordError("train_model")
	r.RecordPredictions("instance-1", 10)
	r.RecordTrainingLoss("instance-1", 0.25)
	r.RecordLatency("predict", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("train_model")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.predictions.WithLabelValues("instance-1")))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.trainingLoss.WithLabelValues("instance-1")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}
