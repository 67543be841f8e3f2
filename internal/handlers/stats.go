package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/agora/internal/admission"
	"github.com/eldtechnologies/agora/internal/models"
)

// MessagePreview represents a preview of a message.
type MessagePreview struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Members        int              `json:"members"`
	Agents         int              `json:"agents"`
	Humans         int              `json:"humans"`
	Admission      admission.Stats  `json:"admission"`
	Activity       models.Activity  `json:"activity"`
	LastActivity   string           `json:"last_activity"`
	RecentMessages []MessagePreview `json:"recent_messages"`
}

// Stats returns admission and room statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	members, err := h.identities.ListIdentities(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count members")
		return
	}
	h.refreshActivity(r)
	resp := StatsResponse{
		Members:   len(members),
		Admission: h.admission.Stats(),
		Activity:  h.activity.Activity(),
	}
	for _, m := range members {
		if m.Kind == models.KindAgent {
			resp.Agents++
		} else {
			resp.Humans++
		}
	}

	resp.LastActivity = "no activity yet"
	if resp.Activity.LastMessageTime > 0 {
		resp.LastActivity = formatTimeAgo(h.now().Sub(time.UnixMilli(resp.Activity.LastMessageTime)))
	}

	messages, err := h.live.GetRecentMessages(ctx, 5, 0)
	if err != nil {
		// Non-fatal, continue with empty messages
		messages = nil
	}
	resp.RecentMessages = make([]MessagePreview, 0, len(messages))
	for _, msg := range messages {
		if msg.Deleted {
			continue
		}
		body := []rune(msg.Body)
		if len(body) > 200 {
			body = append(body[:197], []rune("...")...)
		}
		resp.RecentMessages = append(resp.RecentMessages, MessagePreview{
			ID:        msg.ID,
			From:      msg.From,
			Body:      string(body),
			Timestamp: msg.Timestamp,
		})
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats an age as a human-readable "X ago" string.
func formatTimeAgo(diff time.Duration) string {
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
