// Package compress selects a bounded, priority-ordered slice of room
// history to hand to a reasoning call.
package compress

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/tokens"
)

// Strategy selects how history is ranked before it is cut to budget.
type Strategy string

const (
	StrategyRecent    Strategy = "recent"
	StrategyImportant Strategy = "important"
	StrategyHybrid    Strategy = "hybrid"
)

const (
	// DefaultMaxTokens is used when Options.MaxTokens is not positive.
	DefaultMaxTokens = 2000
	// MentionWindow is how far back the hybrid strategy looks for messages
	// that mention the agent.
	MentionWindow = 5 * time.Minute
)

// Strict makes invariant violations panic instead of being logged. Tests
// turn it on.
var Strict = false

// ParseStrategy maps a config string to a Strategy. Empty means hybrid.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyHybrid, nil
	case StrategyRecent, StrategyImportant, StrategyHybrid:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("compress: unknown strategy %q", s)
}

// Options controls a single Compress call.
type Options struct {
	MaxTokens  int
	Strategy   Strategy
	Self       string
	ChainDepth int
}

// Result is the chronologically ordered subset chosen under budget.
type Result struct {
	Messages   []models.Message
	TokensUsed int
	Dropped    int
}

// Compressor picks context for one agent. It holds no per-call state and
// is safe for concurrent use.
type Compressor struct {
	scorer Scorer
	cost   func(models.Message) int
	now    func() time.Time
	logger zerolog.Logger
}

// CompressorOpts holds parameters for creating a Compressor.
type CompressorOpts struct {
	Scorer Scorer
	Cost   func(models.Message) int // defaults to tokens.MessageCost
	Now    func() time.Time         // defaults to time.Now
	Logger zerolog.Logger
}

// NewCompressor creates a Compressor with the given options.
func NewCompressor(opts CompressorOpts) *Compressor {
	c := &Compressor{
		scorer: opts.Scorer,
		cost:   opts.Cost,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if c.cost == nil {
		c.cost = tokens.MessageCost
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Compress returns the subset of history (plus trigger, when it fits) that
// the strategy selects under opts.MaxTokens.
func (c *Compressor) Compress(history []models.Message, trigger *models.Message, opts Options) Result {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyHybrid
	}

	cands := candidates(history, trigger)
	sel := newSelection(opts.MaxTokens, c.cost)

	switch opts.Strategy {
	case StrategyRecent:
		c.selectRecent(sel, cands, trigger)
	case StrategyImportant:
		c.selectImportant(sel, cands, trigger, opts.Self)
	default:
		c.selectHybrid(sel, cands, trigger, opts)
	}

	out := sel.msgs
	models.SortChronological(out)

	total := len(cands)
	if trigger != nil {
		total++
	}
	res := Result{
		Messages:   out,
		TokensUsed: sel.used,
		Dropped:    total - len(out),
	}
	c.verify(res, history, trigger, opts.MaxTokens)

	metrics.ContextTokens.WithLabelValues(string(opts.Strategy)).Observe(float64(res.TokensUsed))
	c.logger.Debug().
		Str("strategy", string(opts.Strategy)).
		Int("kept", len(res.Messages)).
		Int("dropped", res.Dropped).
		Int("tokens", res.TokensUsed).
		Int("budget", opts.MaxTokens).
		Msg("context compressed")

	return res
}

// selectRecent keeps the trigger, then walks back from the newest message
// until the first one that no longer fits.
func (c *Compressor) selectRecent(sel *selection, cands []models.Message, trigger *models.Message) {
	if trigger != nil {
		sel.add(*trigger)
	}
	for i := len(cands) - 1; i >= 0; i-- {
		if !sel.add(cands[i]) {
			break
		}
	}
}

// selectImportant fills by descending score, then adds the trigger if room remains.
func (c *Compressor) selectImportant(sel *selection, cands []models.Message, trigger *models.Message, self string) {
	for _, m := range c.rank(cands, self) {
		sel.add(m)
	}
	if trigger != nil {
		sel.add(*trigger)
	}
}

// selectHybrid applies three passes in priority order. A message accepted
// by an earlier pass is never evicted by a later one.
func (c *Compressor) selectHybrid(sel *selection, cands []models.Message, trigger *models.Message, opts Options) {
	if trigger != nil {
		index := IndexByID(cands)
		index[trigger.ID] = *trigger
		chain := TraceReplyChain(index, trigger.ID, opts.ChainDepth)
		// Nearest ancestors first so the trigger and its parent win the budget.
		for i := len(chain) - 1; i >= 0; i-- {
			sel.add(chain[i])
		}
	}

	cutoff := c.now().Add(-MentionWindow).UnixMilli()
	for i := len(cands) - 1; i >= 0; i-- {
		m := cands[i]
		if m.Timestamp >= cutoff && m.Mentions(opts.Self) {
			sel.add(m)
		}
	}

	for _, m := range c.rank(cands, opts.Self) {
		sel.add(m)
	}
}

// rank orders candidates by descending score; equal scores keep their
// original order.
func (c *Compressor) rank(cands []models.Message, self string) []models.Message {
	type scored struct {
		msg   models.Message
		score float64
	}
	ranked := make([]scored, len(cands))
	for i, m := range cands {
		ranked[i] = scored{msg: m, score: c.scorer.Score(m, self)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	out := make([]models.Message, len(ranked))
	for i, r := range ranked {
		out[i] = r.msg
	}
	return out
}

// verify checks the output invariants: chronological order, subset of the
// input, and budget respected.
func (c *Compressor) verify(res Result, history []models.Message, trigger *models.Message, budget int) {
	allowed := make(map[string]bool, len(history)+1)
	for _, m := range history {
		allowed[m.ID] = true
	}
	if trigger != nil {
		allowed[trigger.ID] = true
	}

	var problem string
	switch {
	case res.TokensUsed > budget:
		problem = fmt.Sprintf("used %d tokens over budget %d", res.TokensUsed, budget)
	default:
		for i, m := range res.Messages {
			if !allowed[m.ID] {
				problem = fmt.Sprintf("message %s not in input", m.ID)
				break
			}
			if i > 0 && res.Messages[i-1].Timestamp > m.Timestamp {
				problem = fmt.Sprintf("message %s out of order", m.ID)
				break
			}
		}
	}
	if problem == "" {
		return
	}
	if Strict {
		panic("compress: invariant violated: " + problem)
	}
	c.logger.Error().Str("problem", problem).Msg("compression invariant violated")
}

// candidates returns visible history without the trigger, deduplicated by
// id and in chronological order.
func candidates(history []models.Message, trigger *models.Message) []models.Message {
	seen := make(map[string]bool, len(history)+1)
	if trigger != nil {
		seen[trigger.ID] = true
	}
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Deleted || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	models.SortChronological(out)
	return out
}

// selection accumulates accepted messages against a token budget.
type selection struct {
	budget int
	used   int
	picked map[string]bool
	msgs   []models.Message
	cost   func(models.Message) int
}

func newSelection(budget int, cost func(models.Message) int) *selection {
	return &selection{
		budget: budget,
		picked: make(map[string]bool),
		cost:   cost,
	}
}

// add accepts m if it fits. Already accepted messages report true without
// being charged again.
func (s *selection) add(m models.Message) bool {
	if s.picked[m.ID] {
		return true
	}
	cost := s.cost(m)
	if s.used+cost > s.budget {
		return false
	}
	s.picked[m.ID] = true
	s.used += cost
	s.msgs = append(s.msgs, m)
	return true
}
