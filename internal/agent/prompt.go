package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/eldtechnologies/agora/internal/decision"
	"github.com/eldtechnologies/agora/internal/models"
)

// SkipToken is the reasoning reply that declines to speak.
const SkipToken = "[SKIP]"

// isSkip reports whether a generated reply declines to speak.
func isSkip(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || strings.EqualFold(t, SkipToken)
}

func systemPrompt(self, persona string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a participant in a shared chat room with humans and other AI agents.\n", self)
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n")
	}
	b.WriteString("Keep replies short and conversational. Do not repeat what others already said. ")
	fmt.Fprintf(&b, "If you have nothing useful to add, answer exactly %s.", SkipToken)
	return b.String()
}

// transcript renders messages as sanitized chat lines.
func transcript(msgs []models.Message, tf TextFilter) string {
	var b strings.Builder
	for _, m := range msgs {
		body := tf.Sanitize(m.Body).Text
		ts := time.UnixMilli(m.Timestamp).UTC().Format("15:04")
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n", ts, m.From, m.Kind, body)
	}
	return b.String()
}

func replyPrompt(history []models.Message, trigger models.Message, d decision.Decision, tf TextFilter) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	b.WriteString(transcript(history, tf))
	fmt.Fprintf(&b, "\nYou are replying to %s: %s\n", trigger.From, tf.Sanitize(trigger.Body).Text)
	switch d.Reason {
	case decision.ReasonDirectlyMentioned:
		fmt.Fprintf(&b, "%s addressed you directly.\n", trigger.From)
	case decision.ReasonNewMemberGreeting:
		fmt.Fprintf(&b, "%s just joined the room; welcome them briefly.\n", trigger.From)
	}
	return b.String()
}

func topicPrompt(recent []models.Message, tf TextFilter) string {
	var b strings.Builder
	b.WriteString("The room has gone quiet. Start a new topic or ask an open question that invites others in.\n")
	if len(recent) > 0 {
		b.WriteString("Recent conversation, for context only:\n")
		b.WriteString(transcript(recent, tf))
	}
	return b.String()
}

// addressed prefixes @target unless body already mentions them.
func addressed(body, target string) string {
	if target == "" {
		return body
	}
	if (models.Message{Body: body}).Mentions(target) {
		return body
	}
	return "@" + target + " " + body
}
