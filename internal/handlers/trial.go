package handlers

import (
	"net/http"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/go-chi/chi/v5"
)

// StartTrial answers 201 for a new trial and 200 when the fingerprint already
// has one.
func (h *Handlers) StartTrial(w http.ResponseWriter, r *http.Request) {
	var data dto.TrialRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	trial, created, err := h.Services.Trial().Start(r.Context(), data.Fingerprint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, trial)
}

func (h *Handlers) TrialStatus(w http.ResponseWriter, r *http.Request) {
	trial, err := h.Services.Trial().Status(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}
