package handlers

import (
	"net/http"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var data dto.CheckoutRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}

	result, err := h.Services.Checkout().Create(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) CheckoutStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.Services.Checkout().Verify(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
