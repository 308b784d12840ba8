package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
	"mlass/pkg/cache"
)

const snapshotPrefix = "model"

// CacheSnapshotStore stores models as JSON in a cache.Service (Redis in
// production).
type CacheSnapshotStore struct {
	cache cache.Service
	ttl   time.Duration
}

func NewCacheSnapshotStore(c cache.Service, ttl time.Duration) domrepo.SnapshotStore {
	return &CacheSnapshotStore{cache: c, ttl: ttl}
}

func (s *CacheSnapshotStore) Save(ctx context.Context, m *models.Model) error {
	if m == nil || m.Network == nil {
		return fmt.Errorf("save snapshot: empty model")
	}
	if err := s.cache.Set(ctx, cache.GenerateKey(snapshotPrefix, m.InstanceID), m, s.ttl); err != nil {
		return fmt.Errorf("save snapshot %s: %w", m.InstanceID, err)
	}
	return nil
}

// Load returns models.ErrNotTrained when no snapshot exists. A snapshot that
// no longer decodes into a model is deleted so it is not retried.
func (s *CacheSnapshotStore) Load(ctx context.Context, instanceID string) (*models.Model, error) {
	key := cache.GenerateKey(snapshotPrefix, instanceID)
	var m models.Model
	err := s.cache.Get(ctx, key, &m)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, models.ErrNotTrained
	case isDecodeError(err):
		_ = s.cache.Delete(ctx, key)
		return nil, fmt.Errorf("load snapshot %s: %w", instanceID, err)
	case err != nil:
		return nil, fmt.Errorf("load snapshot %s: %w", instanceID, err)
	}
	if m.Network == nil {
		_ = s.cache.Delete(ctx, key)
		return nil, fmt.Errorf("load snapshot %s: missing network", instanceID)
	}
	return &m, nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
