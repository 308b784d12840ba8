package identity

import (
	"context"
	"fmt"

	"mlass/internal/domain/models"
	"mlass/internal/domain/service"
)

// StaticVerifier assigns every caller the configured service and app ids.
// When allowed keys are configured the API key must be one of them.
type StaticVerifier struct {
	serviceID string
	appID     string
	allowed   map[string]struct{}
}

func NewStaticVerifier(serviceID, appID string, allowedKeys []string) service.IdentityVerifier {
	v := &StaticVerifier{serviceID: serviceID, appID: appID}
	if len(allowedKeys) > 0 {
		v.allowed = make(map[string]struct{}, len(allowedKeys))
		for _, k := range allowedKeys {
			v.allowed[k] = struct{}{}
		}
	}
	return v
}

func (v *StaticVerifier) Verify(ctx context.Context, creds models.Credentials) (models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrIdentityRejected, err)
	}
	if creds.InstanceID == "" {
		return models.Identity{}, fmt.Errorf("%w: empty instance id", models.ErrIdentityRejected)
	}
	if v.allowed != nil {
		if _, ok := v.allowed[creds.APIKey]; !ok {
			return models.Identity{}, fmt.Errorf("%w: unknown api key for %s", models.ErrIdentityRejected, creds.InstanceID)
		}
	}
	return models.Identity{
		InstanceID: creds.InstanceID,
		ServiceID:  v.serviceID,
		AppID:      v.appID,
	}, nil
}
