package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/metrics"
)

// Activity reports whether the room is idle.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	h.refreshActivity(r)
	h.JSON(w, http.StatusOK, h.activity.Activity())
}

// Turn asks for the exclusive speaking turn. A refusal is a normal
// answer and is returned with 200.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	grant, err := h.turns.Acquire(r.Context(), identity.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity.Name).Msg("turn lock failed")
		h.Error(w, http.StatusInternalServerError, "failed to acquire turn")
		return
	}
	metrics.TurnRequests.WithLabelValues(strconv.FormatBool(grant.Granted)).Inc()

	h.JSON(w, http.StatusOK, grant)
}

// refreshActivity pulls the newest message from the shared log. A failed
// read leaves the local view in place.
func (h *Handler) refreshActivity(r *http.Request) {
	if err := h.activity.Refresh(r.Context(), h.live); err != nil {
		h.logger.Warn().Err(err).Msg("activity refresh failed")
	}
}
