package auth

import (
	"context"
	"net/http"

	"github.com/go-chi/render"
)

type contextKey string

const (
	AdminContextKey contextKey = "admin"
)

// Middleware creates authentication middleware
type Middleware struct {
	auth *Auth
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(auth *Auth) *Middleware {
	return &Middleware{auth: auth}
}

// RequireAdmin ensures the request carries a valid admin session token
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := GetTokenFromRequest(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := m.auth.ValidateToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), AdminContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAdminFromContext retrieves admin claims from context
func GetAdminFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(AdminContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
