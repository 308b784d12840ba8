package nn

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallTopology() Topology {
	return Topology{
		Lookback:     4,
		Units:        []int{3, 2},
		DropoutRate:  0,
		Epochs:       1,
		BatchSize:    4,
		LearningRate: 0.01,
		Seed:         7,
		Workers:      2,
	}
}

func TestNewBuildsLayerStack(t *testing.T) {
	topo := DefaultTopology()
	net, err := New(topo, Shape{Steps: 60, Features: 1})
	require.NoError(t, err)

	require.Len(t, net.Recurrent, 2)
	assert.True(t, net.Recurrent[0].ReturnSequences)
	assert.False(t, net.Recurrent[1].ReturnSequences)
	assert.Equal(t, 1, net.Recurrent[0].In)
	assert.Equal(t, 50, net.Recurrent[1].In)
	assert.Equal(t, 50, net.Output.In)
	assert.Equal(t, 1, net.Output.Out)

	// 4*50*(1+50+1) + 4*50*(50+50+1) + 50 + 1
	assert.Equal(t, 10400+20200+51, net.ParamCount())
}

func TestNewRejectsBadTopology(t *testing.T) {
	topo := smallTopology()
	topo.DropoutRate = 1
	_, err := New(topo, Shape{Steps: 4, Features: 1})
	assert.Error(t, err)

	_, err = New(smallTopology(), Shape{Steps: 0, Features: 1})
	assert.ErrorIs(t, err, ErrShape)
}

func TestPredictIsDeterministic(t *testing.T) {
	net, err := New(smallTopology(), Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	sample := []float64{0.1, 0.2, 0.3, 0.4}
	a, err := net.Predict(sample)
	require.NoError(t, err)
	b, err := net.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = net.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrShape)
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	net, err := New(smallTopology(), Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	sample := []float64{0.3, -0.1, 0.7, 0.2}
	target := 0.5
	loss := func() float64 {
		y, _ := net.forward(sample, rand.New(rand.NewSource(1)))
		return (y - target) * (y - target)
	}

	grads := net.zeroGrads()
	y, tp := net.forward(sample, rand.New(rand.NewSource(1)))
	net.backward(tp, 2*(y-target), grads)

	const eps = 1e-6
	for pi, p := range net.Params() {
		for k := range p {
			orig := p[k]
			p[k] = orig + eps
			up := loss()
			p[k] = orig - eps
			down := loss()
			p[k] = orig

			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, grads[pi][k], 1e-6, "param %d[%d]", pi, k)
		}
	}
}

func TestFitReducesLoss(t *testing.T) {
	topo := smallTopology()
	topo.Units = []int{6}
	topo.Epochs = 40
	topo.BatchSize = 8
	topo.LearningRate = 0.02
	net, err := New(topo, Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 64)
	y := make([]float64, 64)
	for i := range X {
		X[i] = make([]float64, 4)
		var sum float64
		for k := range X[i] {
			X[i][k] = rng.Float64()
			sum += X[i][k]
		}
		y[i] = sum / 4
	}

	hist, err := net.Fit(context.Background(), X, y)
	require.NoError(t, err)
	require.Len(t, hist.Loss, 40)
	assert.Less(t, hist.Final(), hist.Loss[0])
	assert.Equal(t, 40*8, net.Optimizer.Step)
}

func TestFitRejectsShapeMismatch(t *testing.T) {
	net, err := New(smallTopology(), Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	_, err = net.Fit(context.Background(), [][]float64{{1, 2, 3}}, []float64{1})
	assert.ErrorIs(t, err, ErrShape)

	_, err = net.Fit(context.Background(), [][]float64{{1, 2, 3, 4}}, nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestFitReportsDivergence(t *testing.T) {
	net, err := New(smallTopology(), Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	_, err = net.Fit(context.Background(), [][]float64{{1, 2, 3, 4}}, []float64{math.Inf(1)})
	assert.ErrorIs(t, err, ErrDiverged)
}

func TestFitStopsOnCancelledContext(t *testing.T) {
	net, err := New(smallTopology(), Shape{Steps: 4, Features: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = net.Fit(ctx, [][]float64{{1, 2, 3, 4}}, []float64{1})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAdamFirstStepMovesBySignTimesRate(t *testing.T) {
	a := NewAdam(0.1)
	params := [][]float64{{1, -1}}
	a.Apply(params, [][]float64{{0.5, -2}})

	// first step with bias correction is lr * g/|g| up to epsilon
	assert.InDelta(t, 0.9, params[0][0], 1e-6)
	assert.InDelta(t, -0.9, params[0][1], 1e-6)
	assert.Equal(t, 1, a.Step)
}
