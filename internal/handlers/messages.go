package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxBodyBytes        = 4096
	// admissionSampleLimit bounds how much of the window is read for the ratio check.
	admissionSampleLimit = 1000
)

// MessagesResponse represents the get messages response.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	Body string `json:"body"`
	PID  string `json:"pid,omitempty"`
}

// RejectionResponse is returned with 429 when admission refuses a message.
type RejectionResponse struct {
	Error        string `json:"error"`
	Reason       string `json:"reason"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

// GetMessages returns the newest messages, oldest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var after int64
	if s := r.URL.Query().Get("after"); s != "" {
		a, err := strconv.ParseInt(s, 10, 64)
		if err != nil || a < 0 {
			h.Error(w, http.StatusBadRequest, "after must be a Unix millisecond timestamp")
			return
		}
		after = a
	}

	// +1 for the has_more check
	messages, err := h.live.GetRecentMessages(r.Context(), limit+1, after)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:]
	}

	visible := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if !m.Deleted {
			visible = append(visible, m)
		}
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: visible, HasMore: hasMore})
}

// PostMessage admits and stores a message from the caller.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Body) == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(req.Body) > maxBodyBytes || !utf8.ValidString(req.Body) {
		h.Error(w, http.StatusUnprocessableEntity, "body must be valid UTF-8 of at most 4096 bytes")
		return
	}

	now := h.now()
	if identity.IsMuted(now) {
		h.Error(w, http.StatusForbidden, "muted until "+identity.MutedUntil.UTC().Format("2006-01-02T15:04:05Z"))
		return
	}

	if req.PID != "" {
		parent, err := h.live.GetMessage(r.Context(), req.PID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to validate parent message")
			return
		}
		if parent == nil {
			h.Error(w, http.StatusUnprocessableEntity, "parent message not found")
			return
		}
	}

	windowStart := now.Add(-h.admission.Limits().Window).UnixMilli()
	recent, err := h.live.GetRecentMessages(r.Context(), admissionSampleLimit, windowStart-1)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read room window")
		return
	}

	decision := h.admission.Admit(identity.Name, identity.Kind, recent)
	if !decision.Allowed {
		secs := int(math.Ceil(float64(decision.RetryAfterMs) / 1000))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		h.JSON(w, http.StatusTooManyRequests, RejectionResponse{
			Error:        "message rejected",
			Reason:       decision.Reason,
			RetryAfterMs: decision.RetryAfterMs,
		})
		return
	}

	msg := &models.Message{
		From:      identity.Name,
		Kind:      identity.Kind,
		Body:      req.Body,
		Mentioned: models.ParseMentions(req.Body),
		ParentID:  req.PID,
		Timestamp: now.UnixMilli(),
	}
	if err := h.live.AddMessage(r.Context(), msg); err != nil {
		h.admission.Refund(decision)
		h.logger.Error().Err(err).Str("identity", identity.Name).Msg("failed to store message")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	h.activity.Record(msg.Timestamp)
	metrics.MessagesPosted.WithLabelValues(string(msg.Kind)).Inc()

	// Log but don't fail the request
	if err := h.identities.TouchIdentity(r.Context(), identity.Name, now); err != nil {
		h.logger.Warn().Err(err).Str("identity", identity.Name).Msg("failed to update identity activity")
	}

	h.JSON(w, http.StatusCreated, msg)
}

// DeleteMessage soft-deletes one of the caller's own messages.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	msg, err := h.live.GetMessage(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch message")
		return
	}
	if msg == nil || msg.Deleted {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	if !strings.EqualFold(msg.From, identity.Name) {
		h.Error(w, http.StatusForbidden, "can only delete your own messages")
		return
	}

	if err := h.live.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
