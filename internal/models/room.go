package models

// Activity describes how recently the room has seen traffic.
type Activity struct {
	IsIdle          bool  `json:"is_idle"`
	LastMessageTime int64 `json:"last_message_time"` // Unix ms, 0 if none
}

// TurnGrant is the answer to a request for the exclusive speaking turn.
type TurnGrant struct {
	Granted    bool   `json:"granted"`
	Holder     string `json:"holder,omitempty"`
	LockExpiry int64  `json:"lock_expiry,omitempty"` // Unix ms
}
