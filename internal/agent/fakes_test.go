package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eldtechnologies/agora/internal/filter"
	"github.com/eldtechnologies/agora/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixedRand struct{ v float64 }

func (r fixedRand) Float64() float64 { return r.v }

type rejectedErr struct{ retry time.Duration }

func (e *rejectedErr) Error() string             { return "rejected" }
func (e *rejectedErr) RetryAfter() time.Duration { return e.retry }

type sentMsg struct {
	body   string
	parent string
}

type fakeTransport struct {
	mu        sync.Mutex
	self      string
	clock     *fakeClock
	msgs      []models.Message
	members   []models.Identity
	sent      []sentMsg
	sendErr   error
	recentErr error
}

func (f *fakeTransport) add(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

func (f *fakeTransport) Sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func (f *fakeTransport) GetRecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	msgs := f.msgs
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

func (f *fakeTransport) GetMembers(ctx context.Context) ([]models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Identity(nil), f.members...), nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, body, parentID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMsg{body: body, parent: parentID})
	m := models.Message{
		ID:        fmt.Sprintf("sent-%d", len(f.sent)),
		From:      f.self,
		Kind:      models.KindAgent,
		Body:      body,
		ParentID:  parentID,
		Timestamp: f.clock.Now().UnixMilli(),
	}
	f.msgs = append(f.msgs, m)
	return &m, nil
}

type fakeRoom struct {
	activity  models.Activity
	grant     models.TurnGrant
	err       error
	turnCalls int
}

func (r *fakeRoom) GetActivity(ctx context.Context) (models.Activity, error) {
	return r.activity, r.err
}

func (r *fakeRoom) RequestTurn(ctx context.Context, identity string) (models.TurnGrant, error) {
	r.turnCalls++
	return r.grant, r.err
}

type fakeReasoner struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	lastUser string
}

func (r *fakeReasoner) Generate(ctx context.Context, system, user string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastUser = user
	return r.reply, r.err
}

func (r *fakeReasoner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var _ TextFilter = filter.Default{}
