package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
)

type LicenseHandler struct {
	lifecycle *license.Service
	licenses  *store.LicenseStore
	logger    *slog.Logger
}

func NewLicenseHandler(lifecycle *license.Service, licenses *store.LicenseStore, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{lifecycle: lifecycle, licenses: licenses, logger: logger}
}

type validateRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type validateResponse struct {
	Valid            bool           `json:"valid"`
	License          *model.License `json:"license,omitempty"`
	RemainingDays    *int           `json:"remainingDays,omitempty"`
	Error            string         `json:"error,omitempty"`
	Expired          bool           `json:"expired,omitempty"`
	AlreadyActivated bool           `json:"alreadyActivated,omitempty"`
}

// HandleValidate activates a license on a device, or re-validates it on the
// device it is already bound to. Rejections answer 200 with valid=false so
// clients distinguish "bad key" from transport failures.
func (h *LicenseHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LicenseKey == "" || req.DeviceID == "" {
		http.Error(w, "licenseKey and deviceId are required", http.StatusBadRequest)
		return
	}

	result, err := h.lifecycle.Validate(req.LicenseKey, req.DeviceID, req.DeviceName)
	if err != nil {
		switch {
		case errors.Is(err, license.ErrNotFound):
			writeJSON(w, http.StatusOK, validateResponse{Error: "not_found"})
		case errors.Is(err, license.ErrInactive):
			writeJSON(w, http.StatusOK, validateResponse{Error: "inactive"})
		case errors.Is(err, license.ErrExpired):
			writeJSON(w, http.StatusOK, validateResponse{Error: "expired", Expired: true})
		case errors.Is(err, license.ErrDeviceConflict):
			writeJSON(w, http.StatusOK, validateResponse{Error: "already_activated", AlreadyActivated: true})
		default:
			h.logger.Error("validation failed", "error", err)
			http.Error(w, "validation failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:         true,
		License:       result.License,
		RemainingDays: &result.RemainingDays,
	})
}

type deviceLicenseRequest struct {
	DeviceID string `json:"deviceId"`
}

type deviceLicenseResponse struct {
	HasLicense bool           `json:"hasLicense"`
	License    *model.License `json:"license,omitempty"`
}

// HandleDeviceLicense looks up the active license bound to a device, so a
// reinstalled client can recover its key without asking the user.
func (h *LicenseHandler) HandleDeviceLicense(w http.ResponseWriter, r *http.Request) {
	var req deviceLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}

	lic, err := h.licenses.GetByDevice(req.DeviceID)
	if err != nil {
		h.logger.Error("device lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if lic == nil {
		writeJSON(w, http.StatusOK, deviceLicenseResponse{HasLicense: false})
		return
	}

	writeJSON(w, http.StatusOK, deviceLicenseResponse{HasLicense: true, License: lic})
}
