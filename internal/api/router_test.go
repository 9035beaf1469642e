package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/keyguard/internal/api"
	mw "github.com/kiranshivaraju/keyguard/internal/api/middleware"
	"github.com/kiranshivaraju/keyguard/internal/gate"
	"github.com/kiranshivaraju/keyguard/internal/keys"
	"github.com/kiranshivaraju/keyguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub validator that rejects everything ---

type rejectAll struct{}

func (rejectAll) Validate(_ context.Context, _, _ string) (*models.Credential, error) {
	return nil, &keys.RejectedError{Reason: keys.ReasonUnknownKey}
}

// --- router tests ---

func newTestRouter(g mw.Authorizer) http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{}}`))
	}
	return api.NewRouter(api.Dependencies{
		Auth:             mw.NewAuth(rejectAll{}, nil),
		Admin:            g,
		StatusHandler:    ok,
		HealthHandler:    ok,
		CreateKeyHandler: ok,
		ListKeysHandler:  ok,
	})
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(gate.New(gate.Config{}))

	for _, path := range []string{"/status", "/health"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}
}

func TestRouter_AdminEndpoints_RequireGate(t *testing.T) {
	router := newTestRouter(gate.New(gate.Config{Allowed: nil}))

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api-keys"},
		{"GET", "/api-keys"},
		{"POST", "/api-keys/revoke"},
		{"DELETE", "/api-keys/5"},
		{"GET", "/metrics"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "FORBIDDEN", errObj["code"])
		})
	}
}

func TestRouter_AdminAdmittedUnwiredIs501(t *testing.T) {
	router := newTestRouter(gate.New(gate.Config{Wildcard: true}))

	req := httptest.NewRequest("POST", "/api-keys/revoke", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)

	req = httptest.NewRequest("GET", "/api-keys", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ValidateRequiresKey(t *testing.T) {
	router := newTestRouter(gate.New(gate.Config{Wildcard: true}))

	req := httptest.NewRequest("GET", "/api-keys/validate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(gate.New(gate.Config{Wildcard: true}))

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
