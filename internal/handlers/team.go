package handlers

import (
	"net/http"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) Team(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.Services.Team().Team(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) InviteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var data dto.InviteRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}
	result, err := h.Services.Team().Invite(r.Context(), id, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.Services.Team().RevokeInvite(r.Context(), id, chi.URLParam(r, "inviteID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.Services.Team().RemoveMember(r.Context(), id, chi.URLParam(r, "customerID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var data dto.AcceptInviteRequest
	if err := decodeJSON(w, r, &data); err != nil {
		return
	}
	result, err := h.Services.Team().AcceptInvite(r.Context(), id, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
