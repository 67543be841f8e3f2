// Package decision decides whether an agent should answer a message.
//
// The engine is stateless: every signal it consumes (reply saturation,
// thread detection, newcomer flags) arrives through RoomContext and the
// recent message list.
package decision

import (
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// Decision reasons.
const (
	ReasonDirectlyMentioned = "directly_mentioned"
	ReasonReplySaturation   = "reply_saturation"
	ReasonOngoingThread     = "ongoing_thread"
	ReasonNewMemberGreeting = "new_member_greeting"
	ReasonGeneral           = "general"
)

const (
	// DefaultSaturationThreshold is how many agent replies a message may
	// collect before further agents stay quiet.
	DefaultSaturationThreshold = 2
	// DefaultNewMemberWindow is how long after joining an identity counts
	// as new.
	DefaultNewMemberWindow = 5 * time.Minute
)

// Decision is the engine's verdict on one trigger message.
type Decision struct {
	Respond       bool   `json:"respond"`
	Reason        string `json:"reason"`
	MentionTarget string `json:"mention_target,omitempty"`
}

// Engine evaluates the reply rules in priority order; the first match wins.
type Engine struct {
	SaturationThreshold int
}

// NewEngine returns an Engine with the default saturation threshold.
func NewEngine() *Engine {
	return &Engine{SaturationThreshold: DefaultSaturationThreshold}
}

// Decide returns whether self should respond to trigger.
func (e *Engine) Decide(trigger models.Message, room RoomContext, recent []models.Message, self string) Decision {
	if trigger.Mentions(self) {
		return Decision{Respond: true, Reason: ReasonDirectlyMentioned, MentionTarget: trigger.From}
	}

	threshold := e.SaturationThreshold
	if threshold <= 0 {
		threshold = DefaultSaturationThreshold
	}
	if AgentReplies(trigger.ID, recent) >= threshold {
		return Decision{Respond: false, Reason: ReasonReplySaturation}
	}

	if t := room.OngoingThread; t != nil && !t.Includes(self) {
		return Decision{Respond: false, Reason: ReasonOngoingThread}
	}

	if room.IsNewMember(trigger.From) && isFirstVisible(trigger, recent) {
		return Decision{Respond: true, Reason: ReasonNewMemberGreeting, MentionTarget: trigger.From}
	}

	return Decision{Respond: true, Reason: ReasonGeneral}
}

// AgentReplies counts agent-authored direct replies to messageID.
func AgentReplies(messageID string, recent []models.Message) int {
	n := 0
	for _, m := range recent {
		if m.ParentID == messageID && m.IsAgent() && !m.Deleted {
			n++
		}
	}
	return n
}

// isFirstVisible reports whether trigger is its sender's only message in recent.
func isFirstVisible(trigger models.Message, recent []models.Message) bool {
	for _, m := range recent {
		if m.From == trigger.From && m.ID != trigger.ID && !m.Deleted {
			return false
		}
	}
	return true
}
