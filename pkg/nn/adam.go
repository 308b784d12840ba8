package nn

import "math"

// Adam is the adaptive moment estimation optimizer. Its moment estimates are
// part of the model state so a snapshot can resume training.
type Adam struct {
	LearningRate float64     `json:"learning_rate"`
	Beta1        float64     `json:"beta1"`
	Beta2        float64     `json:"beta2"`
	Epsilon      float64     `json:"epsilon"`
	Step         int         `json:"step"`
	M            [][]float64 `json:"m,omitempty"`
	V            [][]float64 `json:"v,omitempty"`
}

// NewAdam returns Adam with the usual defaults.
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// Apply performs one update of params using grads.
func (a *Adam) Apply(params, grads [][]float64) {
	if a.M == nil {
		a.M = make([][]float64, len(params))
		a.V = make([][]float64, len(params))
		for i, p := range params {
			a.M[i] = make([]float64, len(p))
			a.V[i] = make([]float64, len(p))
		}
	}
	a.Step++
	t := float64(a.Step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i, p := range params {
		g, m, v := grads[i], a.M[i], a.V[i]
		for k := range p {
			m[k] = a.Beta1*m[k] + (1-a.Beta1)*g[k]
			v[k] = a.Beta2*v[k] + (1-a.Beta2)*g[k]*g[k]
			p[k] -= lr * m[k] / (math.Sqrt(v[k]) + a.Epsilon)
		}
	}
}
