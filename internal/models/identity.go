package models

import "time"

// Identity represents a room participant, human or agent.
type Identity struct {
	Name         string     `json:"name"`
	Kind         SenderKind `json:"kind"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	MutedUntil   *time.Time `json:"muted_until,omitempty"`
	MessageCount int64      `json:"message_count"`
}

// IsMuted reports whether the identity is muted at now.
func (i *Identity) IsMuted(now time.Time) bool {
	return i.MutedUntil != nil && now.Before(*i.MutedUntil)
}
