package api

import (
	"errors"
	"net/http"

	"github.com/ibero-data/licensor/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates an admin and issues a session token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var input loginRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	admin, err := h.admins.Authenticate(r.Context(), input.Email, input.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error().Err(err).Msg("admin login failed")
		writeError(w, r, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := h.auth.GenerateToken(admin)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.auth.SetAuthCookie(w, token)
	h.logger.Info().Str("admin", admin.Email).Msg("admin logged in")

	writeJSON(w, r, http.StatusOK, map[string]any{
		"token": token,
		"admin": admin,
	})
}

// Logout clears the auth cookie
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetCurrentAdmin returns the authenticated admin
func (h *Handlers) GetCurrentAdmin(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAdminFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}

	admin, err := h.admins.GetByEmail(r.Context(), claims.Email)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "Admin not found")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"admin": admin})
}
