package compress

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	Strict = true
}

func newTestCompressor() *Compressor {
	return NewCompressor(CompressorOpts{
		Now:    func() time.Time { return testNow },
		Logger: zerolog.Nop(),
	})
}

// msg builds a message whose body costs exactly cost tokens.
func msg(id, from string, ageSec int, cost int) models.Message {
	return models.Message{
		ID:        id,
		From:      from,
		Kind:      models.KindHuman,
		Body:      strings.Repeat("abcd", cost),
		Timestamp: testNow.Add(-time.Duration(ageSec) * time.Second).UnixMilli(),
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func requireChronological(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.LessOrEqual(t, msgs[i-1].Timestamp, msgs[i].Timestamp)
	}
}

func history(n int, cost int) []models.Message {
	out := make([]models.Message, n)
	for i := 0; i < n; i++ {
		out[i] = msg(fmt.Sprintf("m%02d", i), "alice", (n-i)*10, cost)
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategyHybrid, s)

	s, err = ParseStrategy("recent")
	require.NoError(t, err)
	require.Equal(t, StrategyRecent, s)

	_, err = ParseStrategy("newest")
	require.Error(t, err)
}

func TestRecentKeepsNewestContiguous(t *testing.T) {
	c := newTestCompressor()
	h := history(10, 10)
	trigger := msg("trigger", "bob", 0, 10)

	res := c.Compress(h, &trigger, Options{MaxTokens: 40, Strategy: StrategyRecent, Self: "bot"})

	require.Equal(t, []string{"m07", "m08", "m09", "trigger"}, ids(res.Messages))
	require.Equal(t, 40, res.TokensUsed)
	require.Equal(t, 7, res.Dropped)
}

func TestRecentStopsAtFirstMessageThatDoesNotFit(t *testing.T) {
	c := newTestCompressor()
	h := []models.Message{
		msg("small-old", "alice", 30, 1),
		msg("big", "alice", 20, 50),
		msg("small-new", "alice", 10, 1),
	}
	res := c.Compress(h, nil, Options{MaxTokens: 10, Strategy: StrategyRecent})
	require.Equal(t, []string{"small-new"}, ids(res.Messages))
}

func TestImportantPrefersHighScores(t *testing.T) {
	c := newTestCompressor()
	h := history(6, 10)
	h[1].Body = "@bot " + h[1].Body + "?" // 0.8
	h[3].Body = h[3].Body + "?"           // 0.5
	trigger := msg("trigger", "bob", 0, 5)

	res := c.Compress(h, &trigger, Options{MaxTokens: 30, Strategy: StrategyImportant, Self: "bot"})

	require.Contains(t, ids(res.Messages), "m01")
	require.Contains(t, ids(res.Messages), "m03")
	require.Contains(t, ids(res.Messages), "trigger")
	require.LessOrEqual(t, res.TokensUsed, 30)
	requireChronological(t, res.Messages)
}

func TestImportantTiesKeepEncounterOrder(t *testing.T) {
	c := newTestCompressor()
	h := history(5, 10)
	res := c.Compress(h, nil, Options{MaxTokens: 20, Strategy: StrategyImportant})
	require.Equal(t, []string{"m00", "m01"}, ids(res.Messages))
}

func TestHybridIncludesReplyChain(t *testing.T) {
	c := newTestCompressor()
	h := history(20, 5)
	h[2].ParentID = ""
	h[5].ParentID = "m02"
	h[11].ParentID = "m05"
	trigger := msg("trigger", "bob", 0, 5)
	trigger.ParentID = "m11"

	res := c.Compress(h, &trigger, Options{MaxTokens: 30, Strategy: StrategyHybrid, Self: "bot"})

	got := ids(res.Messages)
	for _, id := range []string{"m02", "m05", "m11", "trigger"} {
		require.Contains(t, got, id)
	}
	require.LessOrEqual(t, res.TokensUsed, 30)
	requireChronological(t, res.Messages)
}

func TestHybridChainDepthIsBounded(t *testing.T) {
	c := newTestCompressor()
	h := history(10, 1)
	for i := 1; i < 10; i++ {
		h[i].ParentID = h[i-1].ID
	}
	trigger := msg("trigger", "bob", 0, 1)
	trigger.ParentID = "m09"

	res := c.Compress(h, &trigger, Options{MaxTokens: 5, Strategy: StrategyHybrid})
	require.Equal(t, []string{"m06", "m07", "m08", "m09", "trigger"}, ids(res.Messages))
}

func TestHybridMentionsBeatImportance(t *testing.T) {
	c := newTestCompressor()
	h := history(8, 10)
	// Recent mention of self, low base score otherwise.
	h[6].Body = "hey @bot " + strings.Repeat("x", 30)
	// Old question with parent: high score but outside the mention pass.
	h[0].Body = h[0].Body + "?"
	h[0].ParentID = "nope"
	trigger := msg("trigger", "bob", 0, 10)

	res := c.Compress(h, &trigger, Options{MaxTokens: 20, Strategy: StrategyHybrid, Self: "bot"})
	require.Equal(t, []string{"m06", "trigger"}, ids(res.Messages))
}

func TestHybridIgnoresStaleMentions(t *testing.T) {
	c := newTestCompressor()
	old := msg("old", "alice", int((10 * time.Minute).Seconds()), 10)
	old.Body = "@bot " + old.Body
	fresh := msg("fresh", "alice", 30, 10)
	fresh.Body = fresh.Body + "?"
	trigger := msg("trigger", "bob", 0, 2)

	res := c.Compress([]models.Message{old, fresh}, &trigger, Options{MaxTokens: 14, Self: "bot"})
	// The stale mention still scores 0.6, above the fresh question's 0.5.
	require.Equal(t, []string{"old", "trigger"}, ids(res.Messages))
}

func TestBudgetTooSmallForTrigger(t *testing.T) {
	c := newTestCompressor()
	h := history(20, 10)
	trigger := msg("trigger", "bob", 0, 10)

	for _, s := range []Strategy{StrategyRecent, StrategyImportant, StrategyHybrid} {
		res := c.Compress(h, &trigger, Options{MaxTokens: 5, Strategy: s, Self: "bot"})
		require.LessOrEqual(t, len(res.Messages), 1, "strategy %s", s)
		require.LessOrEqual(t, res.TokensUsed, 5)
	}
}

func TestDeletedAndDuplicateMessagesAreSkipped(t *testing.T) {
	c := newTestCompressor()
	h := history(3, 1)
	h[1].Deleted = true
	h = append(h, h[0])
	trigger := h[2]

	res := c.Compress(h, &trigger, Options{MaxTokens: 100, Strategy: StrategyRecent})
	require.Equal(t, []string{"m00", "m02"}, ids(res.Messages))
}

func TestOutputIsSubsetAndOrdered(t *testing.T) {
	c := newTestCompressor()
	h := history(15, 3)
	// Shuffle timestamps out of slice order.
	h[3], h[10] = h[10], h[3]
	h[7].Body = "@bot?"
	trigger := msg("trigger", "bob", 0, 3)
	trigger.ParentID = "m04"

	input := map[string]bool{"trigger": true}
	for _, m := range h {
		input[m.ID] = true
	}
	for _, s := range []Strategy{StrategyRecent, StrategyImportant, StrategyHybrid} {
		res := c.Compress(h, &trigger, Options{MaxTokens: 20, Strategy: s, Self: "bot"})
		requireChronological(t, res.Messages)
		for _, m := range res.Messages {
			require.True(t, input[m.ID])
		}
	}
}

func TestScorer(t *testing.T) {
	s := Scorer{}
	require.InDelta(t, 0.3, s.Score(models.Message{Body: "hello"}, "bot"), 1e-9)
	require.InDelta(t, 0.6, s.Score(models.Message{Body: "hello @bot"}, "bot"), 1e-9)
	require.InDelta(t, 0.5, s.Score(models.Message{Body: "why？"}, "bot"), 1e-9)
	require.InDelta(t, 0.9, s.Score(models.Message{Body: "@Bot why?", ParentID: "x"}, "bot"), 1e-9)

	s.NewMembers = map[string]bool{"newbie": true}
	require.InDelta(t, 1.0, s.Score(models.Message{From: "newbie", Body: "@bot hi?", ParentID: "x"}, "bot"), 1e-9)
}

func TestTraceReplyChainCycle(t *testing.T) {
	idx := IndexByID([]models.Message{
		{ID: "msg1", ParentID: "msg2"},
		{ID: "msg2", ParentID: "msg1"},
	})
	chain := TraceReplyChain(idx, "msg2", DefaultChainDepth)
	require.Len(t, chain, 2)
	require.Equal(t, []string{"msg1", "msg2"}, ids(chain))
}

func TestTraceReplyChainStopsAtMissingParent(t *testing.T) {
	idx := IndexByID([]models.Message{
		{ID: "a", ParentID: "gone"},
		{ID: "b", ParentID: "a"},
	})
	require.Equal(t, []string{"a", "b"}, ids(TraceReplyChain(idx, "b", 5)))
	require.Empty(t, TraceReplyChain(idx, "missing", 5))
}

func TestTraceReplyChainDepth(t *testing.T) {
	var msgs []models.Message
	for i := 0; i < 10; i++ {
		m := models.Message{ID: fmt.Sprintf("n%d", i)}
		if i > 0 {
			m.ParentID = fmt.Sprintf("n%d", i-1)
		}
		msgs = append(msgs, m)
	}
	chain := TraceReplyChain(IndexByID(msgs), "n9", DefaultChainDepth)
	require.Equal(t, []string{"n5", "n6", "n7", "n8", "n9"}, ids(chain))
}
