package decision

import (
	"strings"
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// Thread detection defaults. A thread is a short burst of messages
// exchanged between a few participants.
const (
	DefaultThreadLookback        = 6
	DefaultThreadWindow          = 2 * time.Minute
	DefaultThreadMinMessages     = 4
	DefaultThreadMinParticipants = 2
	DefaultThreadMaxParticipants = 3
)

// Thread describes a small, recent, multi-party exchange.
type Thread struct {
	Participants []string
	Messages     int
}

// Includes reports whether name takes part in the thread.
func (t *Thread) Includes(name string) bool {
	for _, p := range t.Participants {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// RoomContext carries the room-state signals the engine consumes.
type RoomContext struct {
	OngoingThread *Thread
	NewMembers    map[string]bool
}

// IsNewMember reports whether name joined within the new-member window.
func (rc RoomContext) IsNewMember(name string) bool {
	return rc.NewMembers[name]
}

// ContextOpts tunes BuildRoomContext. Zero values take defaults.
type ContextOpts struct {
	NewMemberWindow       time.Duration
	ThreadLookback        int
	ThreadWindow          time.Duration
	ThreadMinMessages     int
	ThreadMinParticipants int
	ThreadMaxParticipants int
}

func (o *ContextOpts) applyDefaults() {
	if o.NewMemberWindow <= 0 {
		o.NewMemberWindow = DefaultNewMemberWindow
	}
	if o.ThreadLookback <= 0 {
		o.ThreadLookback = DefaultThreadLookback
	}
	if o.ThreadWindow <= 0 {
		o.ThreadWindow = DefaultThreadWindow
	}
	if o.ThreadMinMessages <= 0 {
		o.ThreadMinMessages = DefaultThreadMinMessages
	}
	if o.ThreadMinParticipants <= 0 {
		o.ThreadMinParticipants = DefaultThreadMinParticipants
	}
	if o.ThreadMaxParticipants <= 0 {
		o.ThreadMaxParticipants = DefaultThreadMaxParticipants
	}
}

// BuildRoomContext derives room signals from the member list and the
// chronologically ordered recent messages.
func BuildRoomContext(members []models.Identity, recent []models.Message, now time.Time, opts ContextOpts) RoomContext {
	opts.applyDefaults()

	rc := RoomContext{NewMembers: make(map[string]bool)}
	for _, m := range members {
		if !m.JoinedAt.IsZero() && now.Sub(m.JoinedAt) <= opts.NewMemberWindow {
			rc.NewMembers[m.Name] = true
		}
	}
	rc.OngoingThread = DetectThread(recent, now, opts)
	return rc
}

// DetectThread looks at the last few visible messages. If enough of them
// are recent and come from a small set of participants, they form a thread.
func DetectThread(recent []models.Message, now time.Time, opts ContextOpts) *Thread {
	opts.applyDefaults()

	cutoff := now.Add(-opts.ThreadWindow).UnixMilli()
	seen := make(map[string]bool)
	var participants []string
	count := 0

	looked := 0
	for i := len(recent) - 1; i >= 0 && looked < opts.ThreadLookback; i-- {
		m := recent[i]
		if m.Deleted {
			continue
		}
		looked++
		if m.Timestamp < cutoff {
			break
		}
		count++
		if !seen[m.From] {
			seen[m.From] = true
			participants = append(participants, m.From)
		}
	}

	if count < opts.ThreadMinMessages ||
		len(participants) < opts.ThreadMinParticipants ||
		len(participants) > opts.ThreadMaxParticipants {
		return nil
	}
	return &Thread{Participants: participants, Messages: count}
}
