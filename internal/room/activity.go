// Package room holds shared room state that is not part of the message
// log: how recently anyone spoke, who holds the speaking turn, and
// housekeeping of idle identities.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// DefaultIdleAfter is how long the room must be silent to count as idle.
const DefaultIdleAfter = 60 * time.Second

// Tracker records the time of the last message.
type Tracker struct {
	mu        sync.Mutex
	last      int64
	idleAfter time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker. A zero idleAfter uses DefaultIdleAfter and
// a nil clock uses time.Now.
func NewTracker(idleAfter time.Duration, now func() time.Time) *Tracker {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{idleAfter: idleAfter, now: now}
}

// Record notes a message at ts (Unix ms). Older timestamps are ignored.
func (t *Tracker) Record(ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts > t.last {
		t.last = ts
	}
}

// LogReader is the part of the message log the tracker reads.
type LogReader interface {
	GetRecentMessages(ctx context.Context, limit int, after int64) ([]models.Message, error)
}

// Refresh records the newest message in log if it is newer than anything
// seen so far. The log is shared, so this catches messages posted through
// other server instances or before a restart.
func (t *Tracker) Refresh(ctx context.Context, log LogReader) error {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	newest, err := log.GetRecentMessages(ctx, 1, last)
	if err != nil {
		return err
	}
	if len(newest) > 0 {
		t.Record(newest[len(newest)-1].Timestamp)
	}
	return nil
}

// Activity reports whether the room is idle. A room with no messages is idle.
func (t *Tracker) Activity() models.Activity {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	if last == 0 {
		return models.Activity{IsIdle: true}
	}
	silent := t.now().Sub(time.UnixMilli(last))
	return models.Activity{
		IsIdle:          silent >= t.idleAfter,
		LastMessageTime: last,
	}
}
