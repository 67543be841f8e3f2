package agent

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
)

// Proactive speaking defaults.
const (
	DefaultTickInterval     = 30 * time.Second
	DefaultBaseCooldown     = 5 * time.Minute
	DefaultMaxCooldownCap   = 30 * time.Minute
	DefaultDailyMax         = 20
	GlobalDailyCeiling      = 100
	DefaultEngagementWindow = 2 * time.Minute
	DefaultCallTimeout      = 5 * time.Second
	DefaultReasonTimeout    = 45 * time.Second

	topicHistory = 20
)

// Outcome is the result of one proactive tick.
type Outcome string

const (
	OutcomeSpoke      Outcome = "spoke"
	OutcomeDailyCap   Outcome = "daily_cap"
	OutcomeCooldown   Outcome = "cooldown"
	OutcomeNotIdle    Outcome = "not_idle"
	OutcomeTurnDenied Outcome = "turn_denied"
	OutcomeDeclined   Outcome = "declined"
	OutcomeRejected   Outcome = "rejected"
	OutcomeError      Outcome = "error"
)

// ProactiveConfig tunes a ProactiveScheduler. Zero values take defaults.
type ProactiveConfig struct {
	Self             string
	Persona          string
	TickInterval     time.Duration
	BaseCooldown     time.Duration
	MaxCooldown      time.Duration
	DailyMax         int
	EngagementWindow time.Duration
	CallTimeout      time.Duration
	ReasonTimeout    time.Duration
	// Location decides where the daily counter's midnight falls.
	Location *time.Location
}

func (c *ProactiveConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = DefaultBaseCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = DefaultMaxCooldownCap
	}
	if c.DailyMax <= 0 {
		c.DailyMax = DefaultDailyMax
	}
	if c.DailyMax > GlobalDailyCeiling {
		c.DailyMax = GlobalDailyCeiling
	}
	if c.EngagementWindow <= 0 {
		c.EngagementWindow = DefaultEngagementWindow
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ReasonTimeout <= 0 {
		c.ReasonTimeout = DefaultReasonTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// ProactiveDeps are the collaborators a ProactiveScheduler calls.
type ProactiveDeps struct {
	Transport Transport
	Room      Room
	Reasoner  Reasoner
	Filter    TextFilter
	Now       func() time.Time
	Logger    zerolog.Logger
}

// ProactiveScheduler decides, once per tick, whether the agent should open
// a new topic in an idle room. Each speak that draws no response doubles
// the cooldown before the next one.
//
// It is owned by a single worker goroutine and is not safe for concurrent use.
type ProactiveScheduler struct {
	cfg  ProactiveConfig
	deps ProactiveDeps

	lastSpeak       time.Time
	noEngagement    int
	dailyCount      int
	day             string
	awaitingVerdict bool
}

// NewProactiveScheduler builds a scheduler.
func NewProactiveScheduler(cfg ProactiveConfig, deps ProactiveDeps) *ProactiveScheduler {
	cfg.applyDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ProactiveScheduler{cfg: cfg, deps: deps}
}

// TickInterval is how often Tick should run.
func (p *ProactiveScheduler) TickInterval() time.Duration {
	return p.cfg.TickInterval
}

// CurrentCooldown is BaseCooldown doubled once per consecutive unanswered
// speak, capped at MaxCooldown.
func (p *ProactiveScheduler) CurrentCooldown() time.Duration {
	d := p.cfg.BaseCooldown
	for i := 0; i < p.noEngagement && d < p.cfg.MaxCooldown; i++ {
		d *= 2
	}
	return min(d, p.cfg.MaxCooldown)
}

// NoEngagementCount is the number of consecutive unanswered speaks.
func (p *ProactiveScheduler) NoEngagementCount() int {
	return p.noEngagement
}

// DailyCount is how many times the agent has spoken proactively today.
func (p *ProactiveScheduler) DailyCount() int {
	return p.dailyCount
}

// CheckEngagement looks for anyone else speaking after the last proactive
// message. A response resets the quieting; silence deepens it.
func (p *ProactiveScheduler) CheckEngagement(recent []models.Message) {
	p.awaitingVerdict = false
	since := p.lastSpeak.UnixMilli()
	for _, m := range recent {
		if m.Deleted || m.Timestamp <= since || strings.EqualFold(m.From, p.cfg.Self) {
			continue
		}
		p.noEngagement = 0
		return
	}
	p.noEngagement++
}

// Tick runs one evaluation and reports what happened. Collaborator
// failures end the tick; they never escape it.
func (p *ProactiveScheduler) Tick(ctx context.Context) Outcome {
	out := p.tick(ctx)
	metrics.ProactiveOutcomes.WithLabelValues(string(out)).Inc()
	p.deps.Logger.Debug().
		Str("outcome", string(out)).
		Int("daily", p.dailyCount).
		Int("no_engagement", p.noEngagement).
		Msg("proactive tick")
	return out
}

func (p *ProactiveScheduler) tick(ctx context.Context) Outcome {
	now := p.deps.Now()
	if p.awaitingVerdict && now.Sub(p.lastSpeak) >= p.cfg.EngagementWindow {
		p.settleEngagement(ctx)
	}

	if day := now.In(p.cfg.Location).Format(time.DateOnly); day != p.day {
		p.day = day
		p.dailyCount = 0
	}
	if p.dailyCount >= p.cfg.DailyMax {
		return OutcomeDailyCap
	}
	if !p.lastSpeak.IsZero() && now.Sub(p.lastSpeak) < p.CurrentCooldown() {
		return OutcomeCooldown
	}
	// A cooldown shorter than the engagement window would let the next
	// speak overwrite an unjudged one. Judge it now and recheck.
	if p.awaitingVerdict {
		if !p.settleEngagement(ctx) {
			return OutcomeError
		}
		if now.Sub(p.lastSpeak) < p.CurrentCooldown() {
			return OutcomeCooldown
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	activity, err := p.deps.Room.GetActivity(callCtx)
	cancel()
	if err != nil {
		p.deps.Logger.Warn().Err(err).Msg("activity check failed")
		return OutcomeError
	}
	if !activity.IsIdle {
		return OutcomeNotIdle
	}

	callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	grant, err := p.deps.Room.RequestTurn(callCtx, p.cfg.Self)
	cancel()
	if err != nil {
		p.deps.Logger.Warn().Err(err).Msg("turn request failed")
		return OutcomeError
	}
	if !grant.Granted {
		return OutcomeTurnDenied
	}

	// Context for the topic is best effort.
	callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	recent, err := p.deps.Transport.GetRecentMessages(callCtx, topicHistory)
	cancel()
	if err != nil {
		p.deps.Logger.Debug().Err(err).Msg("no history for topic")
		recent = nil
	}

	reasonCtx, cancel := context.WithTimeout(ctx, p.cfg.ReasonTimeout)
	text, err := p.deps.Reasoner.Generate(reasonCtx, systemPrompt(p.cfg.Self, p.cfg.Persona), topicPrompt(recent, p.deps.Filter))
	cancel()
	if err != nil {
		p.deps.Logger.Warn().Err(err).Msg("topic generation failed")
		return OutcomeError
	}
	if isSkip(text) {
		return OutcomeDeclined
	}
	body := p.deps.Filter.Filter(text).Text
	if isSkip(body) {
		return OutcomeDeclined
	}

	callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	_, err = p.deps.Transport.SendMessage(callCtx, body, "")
	cancel()
	if err != nil {
		if retry, ok := asRejection(err); ok {
			p.deps.Logger.Info().Dur("retry_after", retry).Msg("proactive message rejected")
			return OutcomeRejected
		}
		p.deps.Logger.Warn().Err(err).Msg("proactive send failed")
		return OutcomeError
	}

	p.dailyCount++
	p.lastSpeak = p.deps.Now()
	p.awaitingVerdict = true
	return OutcomeSpoke
}

// settleEngagement judges the last speak against the room's recent
// history. It reports false when the history could not be fetched.
func (p *ProactiveScheduler) settleEngagement(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	recent, err := p.deps.Transport.GetRecentMessages(callCtx, topicHistory)
	if err != nil {
		p.deps.Logger.Warn().Err(err).Msg("engagement check failed")
		return false
	}
	p.CheckEngagement(recent)
	return true
}
