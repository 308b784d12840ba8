package forecast

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"mlass/internal/domain/models"
	"mlass/internal/repository"
	"mlass/pkg/nn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func tinyTopology() nn.Topology {
	return nn.Topology{
		Lookback:     60,
		Units:        []int{4, 4},
		DropoutRate:  0.2,
		Epochs:       1,
		BatchSize:    8,
		LearningRate: 0.01,
		Seed:         1,
		Workers:      2,
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	errors      map[string]int
	latencies   map[string]int
	loss        map[string]float64
	predictions map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		errors:      map[string]int{},
		latencies:   map[string]int{},
		loss:        map[string]float64{},
		predictions: map[string]int{},
	}
}

func (m *recordingMetrics) RecordError(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[stage]++
}

func (m *recordingMetrics) RecordLatency(stage string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[stage]++
}

func (m *recordingMetrics) RecordTrainingLoss(id string, loss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loss[id] = loss
}

func (m *recordingMetrics) RecordPredictions(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[id] += n
}

type fixedHost struct{}

func (fixedHost) CPUPercent() (float64, error)    { return 10, nil }
func (fixedHost) MemoryPercent() (float64, error) { return 20, nil }

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *tracetest.SpanRecorder, *recordingMetrics) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m := newRecordingMetrics()
	opts = append([]Option{WithTracer(tp.Tracer("test")), WithMetrics(m), WithHostSampler(fixedHost{})}, opts...)
	p, err := NewPipeline(repository.NewCSVPriceSource(), tinyTopology(), opts...)
	require.NoError(t, err)
	return p, rec, m
}

func withIdentity() context.Context {
	return models.WithIdentity(context.Background(), models.Identity{
		InstanceID: "instance-1",
		ServiceID:  "service-123",
		AppID:      "app-456",
	})
}

func TestMakeWindowsCount(t *testing.T) {
	for _, n := range []int{61, 62, 100, 500} {
		series := make([]float64, n)
		for i := range series {
			series[i] = float64(i)
		}
		windows, err := MakeWindows(series, 60)
		require.NoError(t, err)
		require.Len(t, windows, n-60)
		for i, w := range windows {
			require.Len(t, w.Input, 60)
			assert.Equal(t, float64(i+60), w.Target)
			assert.Equal(t, float64(i), w.Input[0])
		}
	}
}

func TestMakeWindowsInsufficient(t *testing.T) {
	_, err := MakeWindows(make([]float64, 60), 60)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestScalerRoundTrip(t *testing.T) {
	values := []float64{101.5, 99.25, 130, 87.75, 120.125}
	s, err := FitMinMax(values)
	require.NoError(t, err)

	scaled := s.TransformAll(values)
	for _, v := range scaled {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	back := s.InverseAll(scaled)
	for i := range values {
		assert.InDelta(t, values[i], back[i], 1e-9)
	}

	_, err = FitMinMax(nil)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestTrainOnShortFixtureFailsWithInsufficientData(t *testing.T) {
	p, rec, m := newTestPipeline(t)

	_, err := p.TrainModel(withIdentity(), "testdata/prices_59.csv")
	require.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Equal(t, 1, m.errors[StagePreprocess])

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, StageLoad, spans[0].Name())
	assert.Equal(t, StagePreprocess, spans[1].Name())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}

func TestTrainMissingFile(t *testing.T) {
	p, _, m := newTestPipeline(t)

	_, err := p.TrainModel(withIdentity(), "testdata/nope.csv")
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	assert.Equal(t, 1, m.errors[StageLoad])
}

func TestPredictWithoutModel(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, err := p.Predict(withIdentity(), nil, make([]float64, 70))
	assert.ErrorIs(t, err, models.ErrNotTrained)
}

func TestTrainThenPredict(t *testing.T) {
	p, rec, m := newTestPipeline(t)

	model, err := p.TrainModel(withIdentity(), "testdata/prices_80.csv")
	require.NoError(t, err)
	assert.Equal(t, 20, model.Windows)
	assert.Equal(t, "instance-1", model.InstanceID)
	assert.Equal(t, "service-123", model.ServiceID)
	assert.Len(t, model.History.Loss, 1)
	assert.False(t, math.IsNaN(m.loss["instance-1"]))

	prices := make([]float64, 70)
	for i := range prices {
		prices[i] = 100 + float64(i)/10
	}
	out, err := p.Predict(withIdentity(), model, prices)
	require.NoError(t, err)
	require.Len(t, out, 70-60)
	for _, v := range out {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.Equal(t, 10, m.predictions["instance-1"])

	names := map[string]bool{}
	for _, s := range rec.Ended() {
		names[s.Name()] = true
	}
	for _, stage := range []string{StageLoad, StagePreprocess, StageCreate, StageTrain, StagePredict} {
		assert.True(t, names[stage], stage)
		assert.Equal(t, 1, m.latencies[stage], stage)
	}
}

func TestPredictNeedsMoreThanLookback(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	net, err := nn.New(tinyTopology(), nn.Shape{Steps: 60, Features: 1})
	require.NoError(t, err)
	model := &models.Model{Network: net, Scaler: models.MinMaxScaler{Min: 0, Max: 1}}

	_, err = p.Predict(withIdentity(), model, make([]float64, 60))
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestTrainHonorsCancellation(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(withIdentity())
	cancel()

	_, err := p.TrainModel(ctx, "testdata/prices_80.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, models.ErrDataUnavailable))
}

func TestLoadAppliesRowCap(t *testing.T) {
	p, _, _ := newTestPipeline(t, WithMaxRows(30))

	series, err := p.Load(withIdentity(), "testdata/prices_80.csv")
	require.NoError(t, err)
	assert.Equal(t, 30, series.Len())
}
