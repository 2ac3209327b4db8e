package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ibero-data/licensor/internal/licensing"
)

// ListLicenses returns a page of licenses, newest first
func (h *Handlers) ListLicenses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	offset := queryInt(r, "offset", 0, 0)

	licenses, err := h.licenses.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		writeError(w, r, http.StatusInternalServerError, "Failed to list licenses")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"licenses": licenses,
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateLicense generates a license from the admin API
func (h *Handlers) CreateLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.licenses.GenerateUnique(r.Context(), licensing.DefaultKeyAttempts)
	if err != nil {
		h.logger.Error().Err(err).Msg("license generation failed")
		writeError(w, r, http.StatusInternalServerError, "Failed to generate license")
		return
	}

	h.metrics.LicenseGenerated("admin")
	writeJSON(w, r, http.StatusCreated, lic)
}

// GetLicense returns one license and, when it was purchased, its user
func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.licenses.Get(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, licensing.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "License not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load license")
		writeError(w, r, http.StatusInternalServerError, "Failed to load license")
		return
	}

	resp := map[string]any{"license": lic}
	user, err := h.licenses.UserForLicense(r.Context(), lic.ID)
	switch {
	case err == nil:
		resp["user"] = user
	case errors.Is(err, licensing.ErrNotFound):
	default:
		h.logger.Error().Err(err).Msg("failed to load license user")
		writeError(w, r, http.StatusInternalServerError, "Failed to load license")
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// GetStats summarises licenses and trials
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.licenses.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load license stats")
		writeError(w, r, http.StatusInternalServerError, "Failed to load stats")
		return
	}

	trialUsers, err := h.trials.Total(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load trial stats")
		writeError(w, r, http.StatusInternalServerError, "Failed to load stats")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"licenses":    stats,
		"trial_users": trialUsers,
	})
}

// GetSettings returns stored settings with secrets masked
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := h.settings.GetAllMasked(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load settings")
		writeError(w, r, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	writeJSON(w, r, http.StatusOK, values)
}
