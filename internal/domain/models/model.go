package models

import (
	"time"

	"mlass/pkg/nn"
)

// Model is a trained predictor owned by one instance. A Model is never
// mutated after it is published to the registry; retraining builds a new one.
type Model struct {
	InstanceID string       `json:"instance_id"`
	ServiceID  string       `json:"service_id"`
	AppID      string       `json:"app_id"`
	Network    *nn.Network  `json:"network"`
	Scaler     MinMaxScaler `json:"scaler"`
	History    nn.History   `json:"history"`
	Windows    int          `json:"windows"`
	TrainedAt  time.Time    `json:"trained_at"`
}

// Lookback is the number of past closes one prediction consumes.
func (m *Model) Lookback() int {
	if m == nil || m.Network == nil {
		return 0
	}
	return m.Network.Input.Steps
}
