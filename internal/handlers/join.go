package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
)

// JoinRequest represents the join request body.
type JoinRequest struct {
	Name string            `json:"name"`
	Kind models.SenderKind `json:"kind"`
}

// JoinResponse carries the session token used on authenticated routes.
type JoinResponse struct {
	Token    string           `json:"token"`
	Identity *models.Identity `json:"identity"`
}

// Join registers or refreshes an identity and opens a session for it.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.Name)
	if !isValidName(name) {
		h.Error(w, http.StatusBadRequest, "name must be 1-64 letters, digits, hyphens or underscores")
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindHuman
	}
	if !req.Kind.Valid() {
		h.Error(w, http.StatusBadRequest, "kind must be human or agent")
		return
	}

	existing, err := h.identities.GetIdentity(r.Context(), name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	// A name belongs to one kind for as long as it is registered.
	if existing != nil && existing.Kind != req.Kind {
		h.Error(w, http.StatusConflict, "name is taken by a "+string(existing.Kind))
		return
	}

	identity, created, err := h.identities.UpsertIdentity(r.Context(), name, req.Kind, h.now())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to register identity")
		return
	}

	token := uuid.NewString()
	if err := h.live.CreateSession(r.Context(), token, identity.Name, h.sessionTTL); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		metrics.MembersJoined.WithLabelValues(string(identity.Kind)).Inc()
		h.logger.Info().
			Str("identity", identity.Name).
			Str("kind", string(identity.Kind)).
			Msg("identity joined")
	}

	h.JSON(w, status, JoinResponse{Token: token, Identity: identity})
}

// Leave removes the caller from the room and revokes its session.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if _, err := h.identities.DeleteIdentity(r.Context(), identity.Name); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to remove identity")
		return
	}
	if token := middleware.BearerToken(r); token != "" {
		if err := h.live.DeleteSession(r.Context(), token); err != nil {
			h.logger.Warn().Err(err).Str("identity", identity.Name).Msg("session revoke failed")
		}
	}
	h.admission.Forget(identity.Name)

	h.logger.Info().Str("identity", identity.Name).Msg("identity left")
	h.JSON(w, http.StatusOK, map[string]string{"status": "left", "name": identity.Name})
}
