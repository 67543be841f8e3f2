package agent

import (
	"strings"
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// Reply gate defaults.
const (
	DefaultMinCooldown      = 30 * time.Second
	DefaultMaxCooldown      = 90 * time.Second
	DefaultReplyProbability = 0.5
	DefaultMaxBackoff       = 8.0
)

// StrategyConfig tunes a ReplyStrategy.
type StrategyConfig struct {
	Self                 string
	MinCooldown          time.Duration
	MaxCooldown          time.Duration
	ReplyProbability     float64 // in [0,1]
	AlwaysReplyOnMention bool
	MaxBackoff           float64 // multiplier ceiling, at least 1
}

// DefaultStrategyConfig returns the stock gate for self.
func DefaultStrategyConfig(self string) StrategyConfig {
	return StrategyConfig{
		Self:                 self,
		MinCooldown:          DefaultMinCooldown,
		MaxCooldown:          DefaultMaxCooldown,
		ReplyProbability:     DefaultReplyProbability,
		AlwaysReplyOnMention: true,
		MaxBackoff:           DefaultMaxBackoff,
	}
}

func (c *StrategyConfig) normalize() {
	if c.MinCooldown < 0 {
		c.MinCooldown = 0
	}
	if c.MaxCooldown < c.MinCooldown {
		c.MaxCooldown = c.MinCooldown
	}
	c.ReplyProbability = min(max(c.ReplyProbability, 0), 1)
	if c.MaxBackoff < 1 {
		c.MaxBackoff = 1
	}
}

// ReplyStrategy is one agent's gate on answering messages: a randomized
// cooldown after each reply, random throttling, and a backoff multiplier
// that grows while the room keeps rejecting sends.
//
// It is owned by a single worker goroutine and is not safe for concurrent use.
type ReplyStrategy struct {
	cfg StrategyConfig
	rnd Rand
	now func() time.Time

	lastReply time.Time
	cooldown  time.Duration
	backoff   float64
}

// NewReplyStrategy builds a gate. rnd and now must not be nil.
func NewReplyStrategy(cfg StrategyConfig, rnd Rand, now func() time.Time) *ReplyStrategy {
	cfg.normalize()
	return &ReplyStrategy{cfg: cfg, rnd: rnd, now: now, backoff: 1}
}

// ShouldReply reports whether msg passes the gate.
func (s *ReplyStrategy) ShouldReply(msg models.Message) bool {
	if strings.EqualFold(msg.From, s.cfg.Self) {
		return false
	}
	if s.cfg.AlwaysReplyOnMention && msg.Mentions(s.cfg.Self) {
		return true
	}
	if s.RemainingCooldownMs() > 0 {
		return false
	}
	return s.rnd.Float64() < s.cfg.ReplyProbability
}

// StartCooldown begins a cooldown drawn uniformly from
// [MinCooldown, MaxCooldown] and scaled by the backoff multiplier.
func (s *ReplyStrategy) StartCooldown() {
	span := float64(s.cfg.MaxCooldown - s.cfg.MinCooldown)
	base := float64(s.cfg.MinCooldown) + s.rnd.Float64()*span
	s.cooldown = time.Duration(base * s.backoff)
	s.lastReply = s.now()
}

// RecordRejection doubles the backoff multiplier up to MaxBackoff.
func (s *ReplyStrategy) RecordRejection() {
	s.backoff = min(s.backoff*2, s.cfg.MaxBackoff)
}

// ResetBackoff restores the multiplier after a successful send.
func (s *ReplyStrategy) ResetBackoff() {
	s.backoff = 1
}

// BackoffMultiplier returns the current multiplier.
func (s *ReplyStrategy) BackoffMultiplier() float64 {
	return s.backoff
}

// RemainingCooldownMs is the time left in the active cooldown, or 0.
func (s *ReplyStrategy) RemainingCooldownMs() int64 {
	if s.lastReply.IsZero() {
		return 0
	}
	left := s.lastReply.Add(s.cooldown).Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int64((left + time.Millisecond - 1) / time.Millisecond)
}
