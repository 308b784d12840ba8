package models

import (
	"errors"

	"mlass/pkg/telemetry"
)

var (
	ErrDataUnavailable   = errors.New("price data unavailable")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrTrainingFailure   = errors.New("training failed")
	ErrNotTrained        = errors.New("model not trained")
	ErrPredictionFailure = errors.New("prediction failed")
	ErrIdentityRejected  = errors.New("identity verification failed")
	ErrRateLimited       = errors.New("training rate limit exceeded")

	// ErrTelemetryExportFailure is reported through the telemetry error
	// handler only; it never fails a request.
	ErrTelemetryExportFailure = telemetry.ErrExportFailure
)
