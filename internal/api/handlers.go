package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/config"
	"github.com/ibero-data/licensor/internal/database"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/metrics"
	"github.com/ibero-data/licensor/internal/payment"
	"github.com/ibero-data/licensor/internal/settings"
	"github.com/ibero-data/licensor/internal/trials"
)

// Version is set from main.go at startup
var Version = "dev"

type Handlers struct {
	cfg      *config.Config
	db       *database.DB
	licenses *licensing.Store
	trials   *trials.Store
	payments payment.Authority
	admins   *auth.Store
	auth     *auth.Auth
	settings *settings.Service
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Health reports whether the store is reachable
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("health check failed")
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": h.db.Health(),
	})
}

// GetVersion returns the current version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"version": Version})
}

// InitDB applies pending schema migrations
func (h *Handlers) InitDB(w http.ResponseWriter, r *http.Request) {
	applied, err := h.db.Migrate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("database initialization failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	h.logger.Info().Int("applied", applied).Msg("database initialized")
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Database initialized successfully",
	})
}
