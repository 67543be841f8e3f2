package decision

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ageSec int) int64 {
	return now.Add(-time.Duration(ageSec) * time.Second).UnixMilli()
}

func agentReply(id, parent string) models.Message {
	return models.Message{ID: id, From: "other-" + id, Kind: models.KindAgent, ParentID: parent, Timestamp: at(1)}
}

func TestMentionOverridesSaturation(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "Alice", Kind: models.KindHuman, Body: "@Bot what do you think?", Timestamp: at(5)}
	recent := []models.Message{trigger, agentReply("r1", "t1"), agentReply("r2", "t1")}
	require.Equal(t, 2, AgentReplies("t1", recent))

	d := e.Decide(trigger, RoomContext{OngoingThread: &Thread{Participants: []string{"x", "y"}}}, recent, "Bot")
	require.True(t, d.Respond)
	require.Equal(t, ReasonDirectlyMentioned, d.Reason)
	require.Equal(t, "Alice", d.MentionTarget)
}

func TestMentionOfLongerNameIsNotMention(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "Alice", Kind: models.KindHuman, Body: "@Bob what do you think?", Timestamp: at(5)}
	recent := []models.Message{trigger, agentReply("r1", "t1"), agentReply("r2", "t1")}

	d := e.Decide(trigger, RoomContext{}, recent, "Bo")
	require.False(t, d.Respond)
	require.Equal(t, ReasonReplySaturation, d.Reason)
}

func TestReplySaturation(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "alice", Kind: models.KindHuman, Body: "anyone?", Timestamp: at(5)}

	recent := []models.Message{trigger, agentReply("r1", "t1")}
	require.Equal(t, ReasonGeneral, e.Decide(trigger, RoomContext{}, recent, "bot").Reason)

	recent = append(recent, agentReply("r2", "t1"))
	d := e.Decide(trigger, RoomContext{}, recent, "bot")
	require.False(t, d.Respond)
	require.Equal(t, ReasonReplySaturation, d.Reason)
}

func TestHumanRepliesDoNotSaturate(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "alice", Kind: models.KindHuman, Timestamp: at(5)}
	recent := []models.Message{
		trigger,
		{ID: "h1", From: "bob", Kind: models.KindHuman, ParentID: "t1"},
		{ID: "h2", From: "carol", Kind: models.KindHuman, ParentID: "t1"},
	}
	require.True(t, e.Decide(trigger, RoomContext{}, recent, "bot").Respond)
}

func TestOngoingThreadExcludingSelf(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "alice", Kind: models.KindHuman, Timestamp: at(5)}
	thread := &Thread{Participants: []string{"alice", "bob"}}

	d := e.Decide(trigger, RoomContext{OngoingThread: thread}, nil, "bot")
	require.False(t, d.Respond)
	require.Equal(t, ReasonOngoingThread, d.Reason)

	thread.Participants = append(thread.Participants, "bot")
	require.True(t, e.Decide(trigger, RoomContext{OngoingThread: thread}, nil, "bot").Respond)
}

func TestNewMemberGreeting(t *testing.T) {
	e := NewEngine()
	trigger := models.Message{ID: "t1", From: "newbie", Kind: models.KindHuman, Body: "hi all", Timestamp: at(5)}
	rc := RoomContext{NewMembers: map[string]bool{"newbie": true}}

	d := e.Decide(trigger, rc, []models.Message{trigger}, "bot")
	require.True(t, d.Respond)
	require.Equal(t, ReasonNewMemberGreeting, d.Reason)
	require.Equal(t, "newbie", d.MentionTarget)

	earlier := models.Message{ID: "t0", From: "newbie", Timestamp: at(30)}
	d = e.Decide(trigger, rc, []models.Message{earlier, trigger}, "bot")
	require.Equal(t, ReasonGeneral, d.Reason)
	require.Empty(t, d.MentionTarget)
}

func TestCustomSaturationThreshold(t *testing.T) {
	e := &Engine{SaturationThreshold: 1}
	trigger := models.Message{ID: "t1", From: "alice", Timestamp: at(5)}
	d := e.Decide(trigger, RoomContext{}, []models.Message{agentReply("r1", "t1")}, "bot")
	require.Equal(t, ReasonReplySaturation, d.Reason)
}

func TestBuildRoomContextNewMembers(t *testing.T) {
	members := []models.Identity{
		{Name: "fresh", JoinedAt: now.Add(-time.Minute)},
		{Name: "old", JoinedAt: now.Add(-time.Hour)},
	}
	rc := BuildRoomContext(members, nil, now, ContextOpts{})
	require.True(t, rc.IsNewMember("fresh"))
	require.False(t, rc.IsNewMember("old"))
	require.Nil(t, rc.OngoingThread)
}

func TestDetectThread(t *testing.T) {
	var recent []models.Message
	for i, from := range []string{"alice", "bob", "alice", "bob"} {
		recent = append(recent, models.Message{ID: fmt.Sprint(i), From: from, Timestamp: at(40 - i*10)})
	}
	th := DetectThread(recent, now, ContextOpts{})
	require.NotNil(t, th)
	require.ElementsMatch(t, []string{"alice", "bob"}, th.Participants)
	require.Equal(t, 4, th.Messages)
	require.True(t, th.Includes("Alice"))
}

func TestDetectThreadNeedsRecentBurst(t *testing.T) {
	var recent []models.Message
	for i, from := range []string{"alice", "bob", "alice", "bob"} {
		recent = append(recent, models.Message{ID: fmt.Sprint(i), From: from, Timestamp: at(600 - i)})
	}
	require.Nil(t, DetectThread(recent, now, ContextOpts{}))

	// Too many voices is a busy room, not a thread.
	recent = nil
	for i, from := range []string{"a", "b", "c", "d"} {
		recent = append(recent, models.Message{ID: fmt.Sprint(i), From: from, Timestamp: at(10)})
	}
	require.Nil(t, DetectThread(recent, now, ContextOpts{}))

	// A monologue is not a thread either.
	recent = nil
	for i := 0; i < 5; i++ {
		recent = append(recent, models.Message{ID: fmt.Sprint(i), From: "a", Timestamp: at(10)})
	}
	require.Nil(t, DetectThread(recent, now, ContextOpts{}))
}
