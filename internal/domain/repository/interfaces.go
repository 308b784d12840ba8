package repository

import (
	"context"

	"mlass/internal/domain/models"
)

// PriceSource loads a historical close series. ref is a file path or a
// symbol depending on the backend; at most limit points are returned
// (limit <= 0 means no cap).
type PriceSource interface {
	Load(ctx context.Context, ref string, limit int) (models.PriceSeries, error)
}

// ModelRegistry holds the current model per instance. Writers for one
// instance are serialized through LockWriter; readers never block on them.
type ModelRegistry interface {
	Get(instanceID string) (*models.Model, bool)
	Put(m *models.Model)
	// PutIfAbsent stores m only when the instance has no model yet and
	// returns the model that is current afterwards.
	PutIfAbsent(m *models.Model) *models.Model
	LockWriter(instanceID string) (unlock func())
	Len() int
}

// SnapshotStore persists trained models outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, m *models.Model) error
	Load(ctx context.Context, instanceID string) (*models.Model, error)
}

// EventPublisher emits forecast lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ForecastEvent) error
	Close() error
}

// Metrics records pipeline measurements for scraping.
type Metrics interface {
	RecordError(stage string)
	RecordLatency(stage string, seconds float64)
	RecordTrainingLoss(instanceID string, loss float64)
	RecordPredictions(instanceID string, n int)
}
