package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/keyguard/internal/api/response"
	"github.com/kiranshivaraju/keyguard/internal/keys"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

const (
	apiKeyHeader = "X-API-Key"

	// usageTimeout bounds the detached usage write after a successful validation.
	usageTimeout = 2 * time.Second
)

// Validator is the subset of keys.Validator used by Auth.
type Validator interface {
	Validate(ctx context.Context, secret, callerAddr string) (*models.Credential, error)
}

// UsageRecorder receives successful validations. It may be nil.
type UsageRecorder interface {
	RecordUse(ctx context.Context, id int64)
}

// Auth authenticates client requests by API key.
type Auth struct {
	validator  Validator
	usage      UsageRecorder
	retryAfter time.Duration
}

// NewAuth creates a new Auth middleware. usage may be nil.
func NewAuth(v Validator, usage UsageRecorder) *Auth {
	return &Auth{validator: v, usage: usage, retryAfter: response.DefaultRetryAfter}
}

// Authenticate validates the presented key against the caller address and
// stores the credential in the request context. Every rejection gets the
// same 401; store outages get a 503.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := extractAPIKey(r)
		c, err := a.validator.Validate(r.Context(), secret, ClientAddr(r))
		if err != nil {
			if errors.Is(err, keys.ErrUnauthorized) {
				response.Error(w, http.StatusUnauthorized,
					response.CodeUnauthorized, "Invalid or missing API key", nil)
				return
			}
			slog.Error("api key validation unavailable", "error", err, "request_id", GetRequestID(r))
			response.Unavailable(w, a.retryAfter)
			return
		}

		if a.usage != nil {
			id := c.ID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
				defer cancel()
				a.usage.RecordUse(ctx, id)
			}()
		}

		next.ServeHTTP(w, r.WithContext(SetCredential(r.Context(), c)))
	})
}

// extractAPIKey reads X-API-Key, falling back to an Authorization Bearer token.
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	return extractBearerToken(r)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientAddr is the transport-level peer address of r. Forwarding headers
// such as X-Forwarded-For are never consulted.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
