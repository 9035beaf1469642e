package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/keyguard/internal/api/middleware"
	"github.com/kiranshivaraju/keyguard/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth  *mw.Auth
	Admin mw.Authorizer

	StatusHandler      http.HandlerFunc
	HealthHandler      http.HandlerFunc
	MetricsHandler     http.Handler
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
	DeleteKeyHandler   http.HandlerFunc
	ValidateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/status", orNotImplemented(deps.StatusHandler))
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Key holders
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Get("/api-keys/validate", orNotImplemented(deps.ValidateKeyHandler))
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAdmin(deps.Admin))

		if deps.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
		} else {
			r.Get("/metrics", orNotImplemented(nil))
		}

		r.Post("/api-keys", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/api-keys", orNotImplemented(deps.ListKeysHandler))
		r.Post("/api-keys/revoke", orNotImplemented(deps.RevokeKeyHandler))
		r.Delete("/api-keys/{keyID}", orNotImplemented(deps.DeleteKeyHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
