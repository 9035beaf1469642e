package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/keyguard/pkg/models"
)

type contextKey string

const (
	credentialKey contextKey = "credential"
	requestIDKey  contextKey = "request_id"
)

// SetCredential stores the authenticated credential on ctx.
func SetCredential(ctx context.Context, c *models.Credential) context.Context {
	return context.WithValue(ctx, credentialKey, c)
}

// GetCredential returns the credential set by Auth.Authenticate.
func GetCredential(r *http.Request) (*models.Credential, bool) {
	c, ok := r.Context().Value(credentialKey).(*models.Credential)
	return c, ok && c != nil
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
