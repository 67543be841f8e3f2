package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/store"
)

// maxMuteMinutes caps a single mute at one day.
const maxMuteMinutes = 24 * 60

// MembersResponse represents the member list response.
type MembersResponse struct {
	Members []models.Identity `json:"members"`
	Count   int               `json:"count"`
}

// MuteRequest represents the mute request. Zero minutes lifts a mute.
type MuteRequest struct {
	Minutes int `json:"minutes"`
}

// ListMembers returns every registered identity in join order.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.identities.ListIdentities(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, MembersResponse{Members: members, Count: len(members)})
}

// GetMember handles identity lookup by name.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !isValidName(name) {
		h.Error(w, http.StatusBadRequest, "invalid name")
		return
	}

	identity, err := h.identities.GetIdentity(r.Context(), name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if identity == nil {
		h.Error(w, http.StatusNotFound, "member not found")
		return
	}
	h.JSON(w, http.StatusOK, identity)
}

// Mute silences a member for the requested number of minutes.
func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetIdentityFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	name := chi.URLParam(r, "name")
	if !isValidName(name) {
		h.Error(w, http.StatusBadRequest, "invalid name")
		return
	}

	var req MuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Minutes < 0 || req.Minutes > maxMuteMinutes {
		h.Error(w, http.StatusBadRequest, "minutes must be between 0 and 1440")
		return
	}

	var until *time.Time
	if req.Minutes > 0 {
		t := h.now().Add(time.Duration(req.Minutes) * time.Minute)
		until = &t
	}

	if err := h.identities.SetMute(r.Context(), name, until); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "member not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to update mute")
		return
	}

	h.logger.Info().
		Str("type", "moderation").
		Str("by", caller.Name).
		Str("identity", name).
		Int("minutes", req.Minutes).
		Msg("mute updated")

	identity, err := h.identities.GetIdentity(r.Context(), name)
	if err != nil || identity == nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, identity)
}
