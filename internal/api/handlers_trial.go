package api

import (
	"net/http"
)

type updateFreeTrialRequest struct {
	UserHash string `json:"user_hash" validate:"required"`
	Count    *int   `json:"count" validate:"required,gte=0"`
}

type trialResponse struct {
	UserHash string `json:"user_hash"`
	Count    int    `json:"count"`
}

// UpdateFreeTrial stores the client reported absolute trial count
func (h *Handlers) UpdateFreeTrial(w http.ResponseWriter, r *http.Request) {
	var input updateFreeTrialRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.trials.Report(r.Context(), input.UserHash, *input.Count)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to update trial count")
		writeError(w, r, http.StatusInternalServerError, "Failed to update trial count")
		return
	}

	h.metrics.TrialReported()
	writeJSON(w, r, http.StatusOK, trialResponse{UserHash: input.UserHash, Count: count})
}

type freeTrialCountRequest struct {
	UserHash string `json:"user_hash" validate:"required"`
}

// FreeTrialCount returns the stored trial count, 0 for unknown hashes
func (h *Handlers) FreeTrialCount(w http.ResponseWriter, r *http.Request) {
	var input freeTrialCountRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.trials.Read(r.Context(), input.UserHash)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read trial count")
		writeError(w, r, http.StatusInternalServerError, "Failed to read trial count")
		return
	}

	writeJSON(w, r, http.StatusOK, trialResponse{UserHash: input.UserHash, Count: count})
}
