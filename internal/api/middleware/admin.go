package middleware

import (
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/keyguard/internal/api/response"
)

// Authorizer is satisfied by *gate.Gate.
type Authorizer interface {
	Authorize(callerAddr string) error
}

// RequireAdmin admits only callers the gate authorizes; others get 403.
func RequireAdmin(g Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := ClientAddr(r)
			if err := g.Authorize(addr); err != nil {
				slog.Warn("admin access denied",
					"caller", addr,
					"path", r.URL.Path,
					"request_id", GetRequestID(r),
				)
				response.Error(w, http.StatusForbidden,
					response.CodeForbidden, "Access denied", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
