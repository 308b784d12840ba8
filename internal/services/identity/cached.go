package identity

import (
	"context"
	"time"

	"mlass/internal/domain/models"
	"mlass/internal/domain/service"
	"mlass/pkg/cache"
	applogger "mlass/pkg/logger"
)

const cachePrefix = "identity"

// CachedVerifier remembers successful verifications for ttl. Rejections are
// not cached. Cache failures fall through to the wrapped verifier.
type CachedVerifier struct {
	next  service.IdentityVerifier
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedVerifier(next service.IdentityVerifier, c cache.Service, ttl time.Duration, l *applogger.Logger) service.IdentityVerifier {
	return &CachedVerifier{next: next, cache: c, ttl: ttl, l: l}
}

func (v *CachedVerifier) Verify(ctx context.Context, creds models.Credentials) (models.Identity, error) {
	key := cache.GenerateKey(cachePrefix, cache.HashKey(creds.InstanceID+"\x00"+creds.APIKey))

	var id models.Identity
	if err := v.cache.Get(ctx, key, &id); err == nil {
		return id, nil
	}

	id, err := v.next.Verify(ctx, creds)
	if err != nil {
		return models.Identity{}, err
	}
	if err := v.cache.Set(ctx, key, id, v.ttl); err != nil {
		v.l.Warn("identity cache set failed",
			applogger.String("instance_id", creds.InstanceID),
			applogger.Error(err),
		)
	}
	return id, nil
}
