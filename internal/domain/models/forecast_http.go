package models

// Requests and responses of the forecast HTTP endpoints.

// TrainRequest optionally carries credentials in the body.
type TrainRequest struct {
	InstanceID    string `json:"instance_id" query:"instance_id"`
	ServiceAPIKey string `json:"service_api_key" query:"service_api_key"`
}

// PredictRequest holds recent closes, oldest first.
type PredictRequest struct {
	Prices        []float64 `json:"prices" validate:"required,min=1,dive,gt=0"`
	InstanceID    string    `json:"instance_id"`
	ServiceAPIKey string    `json:"service_api_key"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Models int    `json:"models"`
}
