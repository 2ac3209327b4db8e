package api

import (
	"errors"
	"net/http"

	"github.com/ibero-data/licensor/internal/licensing"
)

type checkUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CheckUser reports whether any license is bound to the given user hash
func (h *Handlers) CheckUser(w http.ResponseWriter, r *http.Request) {
	var input checkUserRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	licensed, err := h.licenses.IsLicensed(r.Context(), input.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("license check failed")
		writeError(w, r, http.StatusInternalServerError, "Failed to check license")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]bool{"licensed": licensed})
}

type validateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=64"`
	UserID     string `json:"user_id" validate:"required"`
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	Licensed bool   `json:"licensed"`
	Error    string `json:"error,omitempty"`
}

// Validate redeems a license key for a user hash. Unknown, used and (when
// expiry is enforced) expired
// keys all answer valid=false, licensed=false.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var input validateRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeJSON(w, r, http.StatusBadRequest, validateResponse{Error: err.Error()})
		return
	}

	result, err := h.licenses.Redeem(r.Context(), input.LicenseKey, input.UserID)
	if err != nil {
		if errors.Is(err, licensing.ErrInvalidRequest) {
			writeJSON(w, r, http.StatusBadRequest, validateResponse{Error: "license_key and user_id are required"})
			return
		}
		h.logger.Error().Err(err).Str("license_key", licensing.MaskKey(input.LicenseKey)).Msg("redemption failed")
		writeJSON(w, r, http.StatusInternalServerError, validateResponse{Error: "Failed to validate license"})
		return
	}

	h.metrics.Redemption(result.String())
	ok := result == licensing.Redeemed
	writeJSON(w, r, http.StatusOK, validateResponse{Valid: ok, Licensed: ok})
}

type submitUserDataRequest struct {
	Name     string `json:"name" validate:"max=255"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Password string `json:"password" validate:"max=72"`
	Phone    string `json:"phone" validate:"max=64"`
	Address  string `json:"address" validate:"max=255"`
	City     string `json:"city" validate:"max=128"`
	State    string `json:"state" validate:"max=128"`
	Zip      string `json:"zip" validate:"max=32"`
}

// SubmitUserData stores purchaser details and issues their license key
func (h *Handlers) SubmitUserData(w http.ResponseWriter, r *http.Request) {
	var input submitUserDataRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	key, userID, err := h.licenses.IssueForPurchase(r.Context(), licensing.Purchaser{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
		Phone:    input.Phone,
		Address:  input.Address,
		City:     input.City,
		State:    input.State,
		Zip:      input.Zip,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to store user data")
		writeError(w, r, http.StatusInternalServerError, "Failed to store user data")
		return
	}

	h.metrics.LicenseGenerated("purchase")
	h.logger.Info().Int64("user_id", userID).Str("license_key", licensing.MaskKey(key)).Msg("purchase recorded")
	writeJSON(w, r, http.StatusCreated, map[string]string{
		"message":     "User data received and stored successfully",
		"license_key": key,
	})
}

// GenerateLicense creates a fresh unused license
func (h *Handlers) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.licenses.GenerateUnique(r.Context(), licensing.DefaultKeyAttempts)
	if err != nil {
		h.logger.Error().Err(err).Msg("license generation failed")
		writeError(w, r, http.StatusInternalServerError, "Failed to generate license")
		return
	}

	h.metrics.LicenseGenerated("generate")
	writeJSON(w, r, http.StatusOK, map[string]string{"license_key": lic.Key})
}
