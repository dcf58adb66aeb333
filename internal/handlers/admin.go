package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var data dto.LicenseCreationRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.Admin().IssueLicense(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	id, err := licenseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.Services.Admin().GetLicense(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SuspendLicense(w http.ResponseWriter, r *http.Request) {
	id, err := licenseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.Services.Admin().SuspendLicense(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) ReinstateLicense(w http.ResponseWriter, r *http.Request) {
	id, err := licenseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.Services.Admin().ReinstateLicense(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func licenseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "licenseID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: license id %q", services.ErrInvalidInput, raw)
	}
	return id, nil
}
