package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/keyguard/internal/api/middleware"
	"github.com/kiranshivaraju/keyguard/internal/api/response"
	"github.com/kiranshivaraju/keyguard/internal/keys"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 64 << 10

// KeyManager defines the lifecycle operations the handlers depend on.
type KeyManager interface {
	Create(ctx context.Context, p keys.CreateParams) (*models.CreatedKey, error)
	List(ctx context.Context, activeOnly bool) ([]models.CredentialView, error)
	Revoke(ctx context.Context, id int64) (bool, error)
}

// CreateKeyRequest is the body of POST /api-keys.
// ExpiresDays is accepted as an alias of ValidityDays.
type CreateKeyRequest struct {
	Name         string   `json:"name"`
	ValidityDays *int     `json:"validity_days"`
	ExpiresDays  *int     `json:"expires_days"`
	AllowedIPs   []string `json:"allowed_ips"`
}

// RevokeKeyRequest is the body of POST /api-keys/revoke.
type RevokeKeyRequest struct {
	KeyID *int64 `json:"key_id"`
}

type listKeysResponse struct {
	Keys  []models.CredentialView `json:"keys"`
	Count int                     `json:"count"`
}

type revokeResponse struct {
	Message string `json:"message"`
	KeyID   int64  `json:"key_id"`
}

type validateResponse struct {
	Valid     bool      `json:"valid"`
	KeyID     int64     `json:"key_id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KeyHandler serves the key-management and key-check endpoints.
type KeyHandler struct {
	manager    KeyManager
	retryAfter time.Duration
}

func NewKeyHandler(m KeyManager) *KeyHandler {
	return &KeyHandler{manager: m, retryAfter: response.DefaultRetryAfter}
}

// Create handles POST /api-keys.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
		return
	}

	days := req.ValidityDays
	if req.ExpiresDays != nil {
		if days != nil && *days != *req.ExpiresDays {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"validity_days and expires_days disagree", nil)
			return
		}
		days = req.ExpiresDays
	}

	created, err := h.manager.Create(r.Context(), keys.CreateParams{
		Name:         req.Name,
		ValidityDays: days,
		AllowedIPs:   req.AllowedIPs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, created)
}

// List handles GET /api-keys.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"active_only must be a boolean", nil)
			return
		}
		activeOnly = b
	}

	views, err := h.manager.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, listKeysResponse{Keys: views, Count: len(views)})
}

// Revoke handles POST /api-keys/revoke.
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
		return
	}
	if req.KeyID == nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "key_id is required", nil)
		return
	}
	h.revoke(w, r, *req.KeyID)
}

// Delete handles DELETE /api-keys/{keyID}.
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "keyID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "keyID must be an integer", nil)
		return
	}
	h.revoke(w, r, id)
}

func (h *KeyHandler) revoke(w http.ResponseWriter, r *http.Request, id int64) {
	ok, err := h.manager.Revoke(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "API key not found", nil)
		return
	}
	response.JSON(w, revokeResponse{Message: "API key revoked", KeyID: id})
}

// Validate handles GET /api-keys/validate. Auth middleware has already
// accepted the presented key.
func (h *KeyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	c, ok := mw.GetCredential(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid or missing API key", nil)
		return
	}
	response.JSON(w, validateResponse{Valid: true, KeyID: c.ID, Name: c.Name, ExpiresAt: c.ExpiresAt})
}

// Status handles GET /status.
func Status(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, map[string]string{"status": "online", "service": "API Key Manager"})
}

func (h *KeyHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, keys.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	default:
		slog.Error("key management request failed",
			"error", err, "path", r.URL.Path, "request_id", mw.GetRequestID(r))
		response.Unavailable(w, h.retryAfter)
	}
}

// decodeJSON decodes exactly one JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("invalid JSON body")
		case errors.As(err, &typeErr):
			return fmt.Errorf("field %q has the wrong type", typeErr.Field)
		default:
			// DisallowUnknownFields reports `json: unknown field "x"`.
			return fmt.Errorf("invalid JSON body: %s", err.Error())
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
