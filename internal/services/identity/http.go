package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mlass/internal/domain/models"
	"mlass/internal/domain/service"
	pkghttp "mlass/pkg/http"
)

type verifyRequest struct {
	InstanceID    string `json:"instance_id"`
	ServiceAPIKey string `json:"service_api_key"`
}

type verifyResponse struct {
	InstanceID string `json:"instance_id"`
	ServiceID  string `json:"service_id"`
	AppID      string `json:"app_id"`
}

// HTTPVerifier asks a remote identity service to resolve credentials. The
// service answers POST {url} with {"instance_id","service_id","app_id"}.
type HTTPVerifier struct {
	client *pkghttp.Client
	url    string
}

func NewHTTPVerifier(client *pkghttp.Client, url string) service.IdentityVerifier {
	return &HTTPVerifier{client: client, url: url}
}

func (v *HTTPVerifier) Verify(ctx context.Context, creds models.Credentials) (models.Identity, error) {
	var resp verifyResponse
	err := v.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: http.MethodPost,
		URL:    v.url,
		Body:   verifyRequest{InstanceID: creds.InstanceID, ServiceAPIKey: creds.APIKey},
	}, &resp)
	if err != nil {
		var se *pkghttp.StatusError
		if errors.As(err, &se) {
			return models.Identity{}, fmt.Errorf("%w: identity service answered %d", models.ErrIdentityRejected, se.StatusCode)
		}
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrIdentityRejected, err)
	}
	if resp.ServiceID == "" || resp.AppID == "" {
		return models.Identity{}, fmt.Errorf("%w: incomplete identity for %s", models.ErrIdentityRejected, creds.InstanceID)
	}
	if resp.InstanceID == "" {
		resp.InstanceID = creds.InstanceID
	}
	return models.Identity{
		InstanceID: resp.InstanceID,
		ServiceID:  resp.ServiceID,
		AppID:      resp.AppID,
	}, nil
}
