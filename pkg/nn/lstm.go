package nn

import (
	"math"
	"math/rand"
)

// LSTM is a recurrent layer with Keras gate ordering (input, forget, cell, output).
// Weights are row-major with 4*Units rows.
type LSTM struct {
	In              int       `json:"in"`
	Units           int       `json:"units"`
	ReturnSequences bool      `json:"return_sequences"`
	W               []float64 `json:"w"`
	U               []float64 `json:"u"`
	B               []float64 `json:"b"`
}

func newLSTM(in, units int, returnSequences bool, rng *rand.Rand) *LSTM {
	l := &LSTM{
		In:              in,
		Units:           units,
		ReturnSequences: returnSequences,
		W:               make([]float64, 4*units*in),
		U:               make([]float64, 4*units*units),
		B:               make([]float64, 4*units),
	}
	glorotUniform(rng, l.W, in, 4*units)
	glorotUniform(rng, l.U, units, 4*units)
	// unit forget bias
	for j := units; j < 2*units; j++ {
		l.B[j] = 1
	}
	return l
}

type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	tc              []float64
}

type lstmTape struct {
	steps []lstmStep
}

// forward runs the layer over a flat steps x In sequence and returns the flat
// steps x Units hidden states. When tape is non-nil the activations needed by
// backward are recorded.
func (l *LSTM) forward(seq []float64, steps int, tape *lstmTape) []float64 {
	H := l.Units
	out := make([]float64, steps*H)
	h := make([]float64, H)
	c := make([]float64, H)
	z := make([]float64, 4*H)

	for t := 0; t < steps; t++ {
		x := seq[t*l.In : (t+1)*l.In]
		for r := 0; r < 4*H; r++ {
			s := l.B[r]
			wr := l.W[r*l.In : (r+1)*l.In]
			for k, xv := range x {
				s += wr[k] * xv
			}
			ur := l.U[r*H : (r+1)*H]
			for k, hv := range h {
				s += ur[k] * hv
			}
			z[r] = s
		}

		hNext := make([]float64, H)
		cNext := make([]float64, H)
		var st lstmStep
		if tape != nil {
			st = lstmStep{
				x: x, hPrev: h, cPrev: c,
				i: make([]float64, H), f: make([]float64, H),
				g: make([]float64, H), o: make([]float64, H),
				tc: make([]float64, H),
			}
		}
		for j := 0; j < H; j++ {
			ig := sigmoid(z[j])
			fg := sigmoid(z[H+j])
			gg := math.Tanh(z[2*H+j])
			og := sigmoid(z[3*H+j])
			cj := fg*c[j] + ig*gg
			tcj := math.Tanh(cj)
			cNext[j] = cj
			hNext[j] = og * tcj
			if tape != nil {
				st.i[j], st.f[j], st.g[j], st.o[j], st.tc[j] = ig, fg, gg, og, tcj
			}
		}
		copy(out[t*H:(t+1)*H], hNext)
		if tape != nil {
			tape.steps = append(tape.steps, st)
		}
		h, c = hNext, cNext
	}
	return out
}

// backward propagates dOut (flat steps x Units) through the recorded tape,
// accumulating into dW, dU, dB and returning the gradient w.r.t. the input.
func (l *LSTM) backward(tape *lstmTape, dOut []float64, dW, dU, dB []float64) []float64 {
	H := l.Units
	steps := len(tape.steps)
	dSeq := make([]float64, steps*l.In)
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := steps - 1; t >= 0; t-- {
		st := tape.steps[t]
		for j := 0; j < H; j++ {
			dh := dOut[t*H+j] + dhNext[j]
			do := dh * st.tc[j]
			dc := dh*st.o[j]*(1-st.tc[j]*st.tc[j]) + dcNext[j]
			di := dc * st.g[j]
			dg := dc * st.i[j]
			df := dc * st.cPrev[j]
			dcNext[j] = dc * st.f[j]

			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[H+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = dg * (1 - st.g[j]*st.g[j])
			dz[3*H+j] = do * st.o[j] * (1 - st.o[j])
		}

		for k := range dhNext {
			dhNext[k] = 0
		}
		dx := dSeq[t*l.In : (t+1)*l.In]
		for r := 0; r < 4*H; r++ {
			g := dz[r]
			if g == 0 {
				continue
			}
			dB[r] += g
			wr := l.W[r*l.In : (r+1)*l.In]
			dwr := dW[r*l.In : (r+1)*l.In]
			for k, xv := range st.x {
				dwr[k] += g * xv
				dx[k] += g * wr[k]
			}
			ur := l.U[r*H : (r+1)*H]
			dur := dU[r*H : (r+1)*H]
			for k, hv := range st.hPrev {
				dur[k] += g * hv
				dhNext[k] += g * ur[k]
			}
		}
	}
	return dSeq
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}
