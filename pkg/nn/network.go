package nn

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	// ErrShape is returned when inputs do not match the network's input shape.
	ErrShape = errors.New("nn: input shape mismatch")
	// ErrDiverged is returned when the training loss stops being finite.
	ErrDiverged = errors.New("nn: training diverged")
)

// Dense is a fully connected output layer.
type Dense struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

func newDense(in, out int, rng *rand.Rand) *Dense {
	d := &Dense{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
	glorotUniform(rng, d.W, in, out)
	return d
}

// Network is LSTM layers followed by dropout and a single-unit dense output,
// compiled with Adam against mean squared error.
type Network struct {
	Topology  Topology `json:"topology"`
	Input     Shape    `json:"input"`
	Recurrent []*LSTM  `json:"recurrent"`
	Output    *Dense   `json:"output"`
	Optimizer *Adam    `json:"optimizer"`
}

// New builds an untrained network for the given input shape.
func New(topo Topology, input Shape) (*Network, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if input.Steps <= 0 || input.Features <= 0 {
		return nil, fmt.Errorf("%w: invalid input shape %+v", ErrShape, input)
	}

	rng := rand.New(rand.NewSource(topo.Seed))
	n := &Network{Topology: topo, Input: input}
	in := input.Features
	for i, units := range topo.Units {
		n.Recurrent = append(n.Recurrent, newLSTM(in, units, i < len(topo.Units)-1, rng))
		in = units
	}
	n.Output = newDense(in, 1, rng)
	n.Optimizer = NewAdam(topo.LearningRate)
	return n, nil
}

// Params returns the trainable tensors in a fixed order.
func (n *Network) Params() [][]float64 {
	ps := make([][]float64, 0, 3*len(n.Recurrent)+2)
	for _, l := range n.Recurrent {
		ps = append(ps, l.W, l.U, l.B)
	}
	return append(ps, n.Output.W, n.Output.B)
}

// ParamCount is the total number of trainable scalars.
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.Params() {
		total += len(p)
	}
	return total
}

func (n *Network) zeroGrads() [][]float64 {
	ps := n.Params()
	gs := make([][]float64, len(ps))
	for i, p := range ps {
		gs[i] = make([]float64, len(p))
	}
	return gs
}

// Predict runs one inference forward pass over a flat sample.
func (n *Network) Predict(sample []float64) (float64, error) {
	if len(sample) != n.Input.Size() {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrShape, len(sample), n.Input.Size())
	}
	y, _ := n.forward(sample, nil)
	return y, nil
}

// PredictBatch runs Predict for each sample.
func (n *Network) PredictBatch(samples [][]float64) ([]float64, error) {
	out := make([]float64, len(samples))
	for i, s := range samples {
		y, err := n.Predict(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

type tape struct {
	recurrent []*lstmTape
	last      []float64
	mask      []float64
}

// forward computes the network output. A non-nil rng enables training mode:
// activations are recorded and dropout is applied.
func (n *Network) forward(sample []float64, rng *rand.Rand) (float64, *tape) {
	training := rng != nil
	var tp *tape
	if training {
		tp = &tape{recurrent: make([]*lstmTape, len(n.Recurrent))}
	}

	seq := sample
	steps := n.Input.Steps
	for i, l := range n.Recurrent {
		var lt *lstmTape
		if training {
			lt = &lstmTape{steps: make([]lstmStep, 0, steps)}
			tp.recurrent[i] = lt
		}
		seq = l.forward(seq, steps, lt)
	}

	H := n.Output.In
	last := seq[(steps-1)*H:]
	if training {
		tp.last = last
		tp.mask = dropoutMask(rng, H, n.Topology.DropoutRate)
	}

	y := n.Output.B[0]
	for k, v := range last {
		if training {
			v *= tp.mask[k]
		}
		y += n.Output.W[k] * v
	}
	return y, tp
}

// backward accumulates gradients for dLoss/dy into grads.
func (n *Network) backward(tp *tape, dy float64, grads [][]float64) {
	H := n.Output.In
	steps := n.Input.Steps
	gi := len(grads) - 2
	dDenseW, dDenseB := grads[gi], grads[gi+1]

	dLast := make([]float64, H)
	for k, v := range tp.last {
		dropped := v * tp.mask[k]
		dDenseW[k] += dy * dropped
		dLast[k] = dy * n.Output.W[k] * tp.mask[k]
	}
	dDenseB[0] += dy

	// only the final step of the top layer feeds the head
	dOut := make([]float64, steps*H)
	copy(dOut[(steps-1)*H:], dLast)

	for i := len(n.Recurrent) - 1; i >= 0; i-- {
		l := n.Recurrent[i]
		dOut = l.backward(tp.recurrent[i], dOut, grads[3*i], grads[3*i+1], grads[3*i+2])
	}
}

func dropoutMask(rng *rand.Rand, size int, rate float64) []float64 {
	mask := make([]float64, size)
	keep := 1 - rate
	for i := range mask {
		if rate == 0 || rng.Float64() >= rate {
			mask[i] = 1 / keep
		}
	}
	return mask
}
