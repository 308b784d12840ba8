package models

import "context"

const (
	DefaultInstanceID = "instance-1"
	DefaultAPIKey     = "default-api-key"
)

// Identity is the verified caller of a request.
type Identity struct {
	InstanceID string `json:"instance_id"`
	ServiceID  string `json:"service_id"`
	AppID      string `json:"app_id"`
}

// Credentials are what a caller presents before verification.
type Credentials struct {
	InstanceID string
	APIKey     string
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
