package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/compress"
	"github.com/eldtechnologies/agora/internal/decision"
	"github.com/eldtechnologies/agora/internal/filter"
	"github.com/eldtechnologies/agora/internal/models"
)

func init() {
	compress.Strict = true
}

type runtimeFixture struct {
	clock     *fakeClock
	transport *fakeTransport
	room      *fakeRoom
	reasoner  *fakeReasoner
	rt        *Runtime
}

func newRuntime(t *testing.T, rnd float64, mutate func(*Config)) *runtimeFixture {
	t.Helper()
	c := newClock()
	f := &runtimeFixture{
		clock:     c,
		transport: &fakeTransport{self: "Bot", clock: c},
		room:      &fakeRoom{activity: models.Activity{IsIdle: true}, grant: models.TurnGrant{Granted: true}},
		reasoner:  &fakeReasoner{reply: "Sounds good to me."},
	}
	cfg := Config{Name: "Bot", Persona: "You are cheerful.", PollInterval: 10 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := New(cfg, Deps{
		Transport: f.transport,
		Room:      f.room,
		Reasoner:  f.reasoner,
		Filter:    filter.Default{},
		Rand:      fixedRand{rnd},
		Now:       c.Now,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	f.rt = rt
	return f
}

func (f *runtimeFixture) msg(id, from string, kind models.SenderKind, body, parent string, ageSec int) models.Message {
	m := models.Message{
		ID:        id,
		From:      from,
		Kind:      kind,
		Body:      body,
		ParentID:  parent,
		Timestamp: f.clock.Now().Add(-time.Duration(ageSec) * time.Second).UnixMilli(),
	}
	f.transport.add(m)
	return m
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	_, err = New(Config{Name: "x"}, Deps{})
	require.Error(t, err)
}

func TestHandleMessageSendsReply(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	trigger := f.msg("m1", "alice", models.KindHuman, "what's for lunch?", "", 1)

	require.Equal(t, ReplySent, f.rt.HandleMessage(context.Background(), trigger))
	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "m1", sent[0].parent)
	require.Equal(t, "Sounds good to me.", sent[0].body)
	require.Contains(t, f.reasoner.lastUser, "what's for lunch?")

	require.Positive(t, f.rt.Strategy().RemainingCooldownMs())
	require.Equal(t, 1.0, f.rt.Strategy().BackoffMultiplier())

	// Gated by the cooldown now.
	next := f.msg("m2", "alice", models.KindHuman, "and dinner?", "", 0)
	require.Equal(t, ReplyGated, f.rt.HandleMessage(context.Background(), next))
}

// Bot is mentioned by Alice while the message already has two agent
// replies and Bot's backoff is at 4x: the mention still wins.
func TestMentionOverridesSaturationAndBackoff(t *testing.T) {
	f := newRuntime(t, 0.9, nil)
	s := f.rt.Strategy()
	s.RecordRejection()
	s.RecordRejection()
	require.Equal(t, 4.0, s.BackoffMultiplier())
	s.StartCooldown()

	trigger := f.msg("t1", "Alice", models.KindHuman, "@Bot what do you think?", "", 10)
	f.msg("r1", "Other1", models.KindAgent, "I think yes", "t1", 5)
	f.msg("r2", "Other2", models.KindAgent, "I think no", "t1", 4)

	require.True(t, s.ShouldReply(trigger))
	recent, _ := f.transport.GetRecentMessages(context.Background(), 50)
	require.Equal(t, 2, decision.AgentReplies("t1", recent))

	require.Equal(t, ReplySent, f.rt.HandleMessage(context.Background(), trigger))
	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "@Alice Sounds good to me.", sent[0].body)
	require.Equal(t, 1.0, s.BackoffMultiplier())
}

func TestHandleMessageSaturated(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	trigger := f.msg("t1", "alice", models.KindHuman, "thoughts?", "", 10)
	f.msg("r1", "a1", models.KindAgent, "x", "t1", 5)
	f.msg("r2", "a2", models.KindAgent, "y", "t1", 4)

	require.Equal(t, ReplySkipped, f.rt.HandleMessage(context.Background(), trigger))
	require.Zero(t, f.reasoner.Calls())
}

func TestHandleMessageRejectedBacksOff(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	f.transport.sendErr = &rejectedErr{retry: 5 * time.Second}
	trigger := f.msg("m1", "alice", models.KindHuman, "hi", "", 1)

	require.Equal(t, ReplyRejected, f.rt.HandleMessage(context.Background(), trigger))
	require.Equal(t, 2.0, f.rt.Strategy().BackoffMultiplier())
	require.Positive(t, f.rt.Strategy().RemainingCooldownMs())
}

func TestHandleMessageDeclined(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	f.reasoner.reply = SkipToken
	trigger := f.msg("m1", "alice", models.KindHuman, "hi", "", 1)

	require.Equal(t, ReplyDeclined, f.rt.HandleMessage(context.Background(), trigger))
	require.Empty(t, f.transport.Sent())
	require.Zero(t, f.rt.Strategy().RemainingCooldownMs())
}

func TestHandleMessageTransportError(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	f.transport.recentErr = context.DeadlineExceeded
	trigger := models.Message{ID: "m1", From: "alice", Body: "hi", Timestamp: f.clock.Now().UnixMilli()}
	require.Equal(t, ReplyError, f.rt.HandleMessage(context.Background(), trigger))
}

func TestStartStop(t *testing.T) {
	f := newRuntime(t, 0.1, func(c *Config) { c.ProactiveEnabled = true })
	f.msg("old", "alice", models.KindHuman, "before we started", "", 30)

	ctx := context.Background()
	require.NoError(t, f.rt.Start(ctx))
	require.Error(t, f.rt.Start(ctx))

	// Let the poller take its baseline, then post something new.
	time.Sleep(50 * time.Millisecond)
	f.msg("new", "alice", models.KindHuman, "anyone here?", "", 0)

	require.Eventually(t, func() bool {
		return len(f.transport.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "new", f.transport.Sent()[0].parent)

	require.NoError(t, f.rt.Stop())
	require.NoError(t, f.rt.Stop())
	require.Error(t, f.rt.Start(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	f := newRuntime(t, 0.1, nil)
	require.NoError(t, f.rt.Stop())
}
