package nn

import (
	"fmt"
	"runtime"
)

// Topology describes a stacked recurrent regressor and how it is trained.
// All recurrent layers except the last return full sequences.
type Topology struct {
	Lookback     int     `yaml:"lookback" json:"lookback" default:"60"`
	Units        []int   `yaml:"units" json:"units" default:"[50,50]"`
	DropoutRate  float64 `yaml:"dropout_rate" json:"dropout_rate" default:"0.2"`
	Epochs       int     `yaml:"epochs" json:"epochs" default:"10"`
	BatchSize    int     `yaml:"batch_size" json:"batch_size" default:"32"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate" default:"0.001"`
	Seed         int64   `yaml:"seed" json:"seed" default:"42"`
	Workers      int     `yaml:"workers" json:"workers"`
}

// DefaultTopology returns LSTM(50) -> LSTM(50) -> Dropout(0.2) -> Dense(1)
// trained for 10 epochs in batches of 32 over 60-step windows.
func DefaultTopology() Topology {
	return Topology{
		Lookback:     60,
		Units:        []int{50, 50},
		DropoutRate:  0.2,
		Epochs:       10,
		BatchSize:    32,
		LearningRate: 0.001,
		Seed:         42,
	}
}

// Validate checks the topology can be built.
func (t Topology) Validate() error {
	if t.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %d", t.Lookback)
	}
	if len(t.Units) == 0 {
		return fmt.Errorf("at least one recurrent layer is required")
	}
	for i, u := range t.Units {
		if u <= 0 {
			return fmt.Errorf("units[%d] must be positive, got %d", i, u)
		}
	}
	if t.DropoutRate < 0 || t.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0,1), got %v", t.DropoutRate)
	}
	if t.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", t.Epochs)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", t.BatchSize)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", t.LearningRate)
	}
	return nil
}

func (t Topology) workers() int {
	if t.Workers > 0 {
		return t.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Shape is the per-sample input shape: Steps timesteps of Features values.
type Shape struct {
	Steps    int `json:"steps"`
	Features int `json:"features"`
}

// Size is the flat length of one sample.
func (s Shape) Size() int { return s.Steps * s.Features }
