// Package agent runs one automated room participant: the reply gate, the
// proactive speaker and the worker goroutine that serializes them.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/agora/internal/filter"
	"github.com/eldtechnologies/agora/internal/models"
)

// Transport is the agent's view of the message log.
type Transport interface {
	// GetRecentMessages returns up to limit of the newest messages, oldest first.
	GetRecentMessages(ctx context.Context, limit int) ([]models.Message, error)
	GetMembers(ctx context.Context) ([]models.Identity, error)
	// SendMessage posts body, optionally as a reply to parentID.
	SendMessage(ctx context.Context, body, parentID string) (*models.Message, error)
}

// Room reports idleness and hands out the exclusive speaking turn.
type Room interface {
	GetActivity(ctx context.Context) (models.Activity, error)
	RequestTurn(ctx context.Context, identity string) (models.TurnGrant, error)
}

// Reasoner generates text. A reply of SkipToken declines to speak.
type Reasoner interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TextFilter cleans text on its way to and from the Reasoner.
type TextFilter interface {
	Sanitize(text string) filter.Result
	Filter(text string) filter.Result
}

// Rand is the random source behind cooldown jitter and reply throttling.
type Rand interface {
	Float64() float64
}

// rejection is implemented by send errors that carry an admission
// rejection from the room.
type rejection interface {
	error
	RetryAfter() time.Duration
}

// asRejection reports whether err is an admission rejection.
func asRejection(err error) (time.Duration, bool) {
	var r rejection
	if errors.As(err, &r) {
		return r.RetryAfter(), true
	}
	return 0, false
}
