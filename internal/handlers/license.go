package handlers

import (
	"net/http"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
)

func (h *Handlers) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var data dto.LicenseValidationRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.License().Validate(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var data dto.ActivateLicenseRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.License().Activate(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyActivated {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var data dto.HeartbeatRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.License().Heartbeat(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	var data dto.DeactivateRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.License().Deactivate(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var data dto.RefreshTokenRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.License().Refresh(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
