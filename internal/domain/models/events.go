package models

import "time"

const (
	EventModelTrained     = "model.trained"
	EventPredictionServed = "prediction.served"
)

// ForecastEvent is published after a training run or a prediction.
type ForecastEvent struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	ServiceID  string    `json:"service_id"`
	AppID      string    `json:"app_id"`
	Windows    int       `json:"windows,omitempty"`
	Loss       float64   `json:"loss,omitempty"`
	Count      int       `json:"count,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}
