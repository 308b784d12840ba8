package models

// MinMaxScaler maps [Min, Max] onto [0, 1].
type MinMaxScaler struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (s MinMaxScaler) span() float64 {
	if d := s.Max - s.Min; d != 0 {
		return d
	}
	// constant series: every value maps to 0
	return 1
}

// Transform normalizes a single value.
func (s MinMaxScaler) Transform(v float64) float64 {
	return (v - s.Min) / s.span()
}

// TransformAll normalizes values into a new slice.
func (s MinMaxScaler) TransformAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Transform(v)
	}
	return out
}

// Inverse maps a normalized value back into price units.
func (s MinMaxScaler) Inverse(v float64) float64 {
	return v*s.span() + s.Min
}

// InverseAll maps normalized values back into price units.
func (s MinMaxScaler) InverseAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Inverse(v)
	}
	return out
}
