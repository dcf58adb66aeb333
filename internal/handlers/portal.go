package handlers

import (
	"net/http"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/go-chi/chi/v5"
)

// identity returns the portal user set by the auth middleware. Handlers are
// never mounted without it, but a missing identity still answers 401.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, auth.ErrMissingToken)
	}
	return id, ok
}

func (h *Handlers) PortalMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.Services.Portal().Me(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) PortalLicense(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.Services.Portal().License(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) PortalDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.Services.Portal().Devices(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) PortalDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.Services.Portal().DeactivateDevice(r.Context(), id, chi.URLParam(r, "deviceID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PortalBilling opens a Stripe billing portal session. The body is optional.
func (h *Handlers) PortalBilling(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var data dto.BillingPortalRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &data); err != nil {
			return
		}
	}
	result, err := h.Services.Portal().BillingPortal(r.Context(), id, data.ReturnURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) PortalInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.Services.Portal().Invoices(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
