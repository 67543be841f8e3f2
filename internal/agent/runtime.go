package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/agora/internal/compress"
	"github.com/eldtechnologies/agora/internal/decision"
	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
)

// Runtime defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultHistoryLimit = 50
	inboxSize           = 64
)

// ReplyOutcome is the result of handling one inbound message.
type ReplyOutcome string

const (
	ReplyGated    ReplyOutcome = "gated"
	ReplyDeclined ReplyOutcome = "declined"
	ReplySkipped  ReplyOutcome = "skipped"
	ReplySent     ReplyOutcome = "sent"
	ReplyRejected ReplyOutcome = "rejected"
	ReplyError    ReplyOutcome = "error"
)

// Config describes one agent.
type Config struct {
	Name             string
	Persona          string
	ContextStrategy  compress.Strategy
	MaxContextTokens int
	HistoryLimit     int
	PollInterval     time.Duration
	Strategy         StrategyConfig
	Proactive        ProactiveConfig
	ProactiveEnabled bool
	// SaturationThreshold overrides the decision engine's default when positive.
	SaturationThreshold int
}

// Deps are the collaborators and sources of time and randomness.
type Deps struct {
	Transport Transport
	Room      Room
	Reasoner  Reasoner
	Filter    TextFilter
	Rand      Rand             // defaults to math/rand
	Now       func() time.Time // defaults to time.Now
	Logger    zerolog.Logger
}

// Runtime runs one agent. Inbound messages and proactive ticks are handled
// on a single worker goroutine, so the reply gate and the proactive
// scheduler never run concurrently.
type Runtime struct {
	cfg       Config
	deps      Deps
	strategy  *ReplyStrategy
	proactive *ProactiveScheduler
	engine    *decision.Engine
	inbox     chan models.Message
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// New validates cfg and wires a stopped runtime.
func New(cfg Config, deps Deps) (*Runtime, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent: name is required")
	}
	if deps.Transport == nil || deps.Room == nil || deps.Reasoner == nil || deps.Filter == nil {
		return nil, errors.New("agent: transport, room, reasoner and filter are required")
	}
	if deps.Rand == nil {
		deps.Rand = defaultRand{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ContextStrategy == "" {
		cfg.ContextStrategy = compress.StrategyHybrid
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = compress.DefaultMaxTokens
	}
	if cfg.Strategy == (StrategyConfig{}) {
		cfg.Strategy = DefaultStrategyConfig(cfg.Name)
	}
	cfg.Strategy.Self = cfg.Name
	cfg.Proactive.Self = cfg.Name
	if cfg.Proactive.Persona == "" {
		cfg.Proactive.Persona = cfg.Persona
	}
	cfg.Proactive.applyDefaults()

	logger := deps.Logger.With().Str("agent", cfg.Name).Logger()
	engine := decision.NewEngine()
	if cfg.SaturationThreshold > 0 {
		engine.SaturationThreshold = cfg.SaturationThreshold
	}

	return &Runtime{
		cfg:      cfg,
		deps:     deps,
		strategy: NewReplyStrategy(cfg.Strategy, deps.Rand, deps.Now),
		proactive: NewProactiveScheduler(cfg.Proactive, ProactiveDeps{
			Transport: deps.Transport,
			Room:      deps.Room,
			Reasoner:  deps.Reasoner,
			Filter:    deps.Filter,
			Now:       deps.Now,
			Logger:    logger,
		}),
		engine: engine,
		inbox:  make(chan models.Message, inboxSize),
		logger: logger,
	}, nil
}

// Strategy exposes the reply gate for inspection.
func (r *Runtime) Strategy() *ReplyStrategy { return r.strategy }

// Proactive exposes the proactive scheduler for inspection.
func (r *Runtime) Proactive() *ProactiveScheduler { return r.proactive }

// Start launches the poller and the worker. It fails if called twice.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("agent: already started")
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	g.Go(func() error { return r.poll(gctx) })
	g.Go(func() error { return r.work(gctx) })

	r.logger.Info().
		Bool("proactive", r.cfg.ProactiveEnabled).
		Str("context_strategy", string(r.cfg.ContextStrategy)).
		Msg("agent started")
	return nil
}

// Stop cancels both goroutines and waits for them. In-flight calls are
// abandoned, not retried. Stop is idempotent; a never-started runtime
// stops immediately.
func (r *Runtime) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		cancel, g := r.cancel, r.group
		r.started = true // a stopped runtime cannot be started again
		r.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			r.stopErr = err
		}
		r.logger.Info().Msg("agent stopped")
	})
	return r.stopErr
}

// poll feeds new messages to the worker. Messages present at startup are
// treated as history, not triggers.
func (r *Runtime) poll(ctx context.Context) error {
	var (
		lastTS int64
		seenAt = map[string]bool{}
		primed bool
		ticker = time.NewTicker(r.cfg.PollInterval)
	)
	defer ticker.Stop()

	for {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Proactive.CallTimeout)
		msgs, err := r.deps.Transport.GetRecentMessages(callCtx, r.cfg.HistoryLimit)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn().Err(err).Msg("poll failed")
		case err == nil:
			for _, m := range msgs {
				if m.Timestamp < lastTS || (m.Timestamp == lastTS && seenAt[m.ID]) {
					continue
				}
				if m.Timestamp > lastTS {
					lastTS = m.Timestamp
					clear(seenAt)
				}
				seenAt[m.ID] = true
				if !primed || m.Deleted {
					continue
				}
				select {
				case r.inbox <- m:
				case <-ctx.Done():
					return nil
				}
			}
			primed = true
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runtime) work(ctx context.Context) error {
	var tick <-chan time.Time
	if r.cfg.ProactiveEnabled {
		t := time.NewTicker(r.proactive.TickInterval())
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.inbox:
			r.HandleMessage(ctx, m)
		case <-tick:
			r.proactive.Tick(ctx)
		}
	}
}

// HandleMessage runs the reply pipeline for one trigger. It must only be
// called from the worker goroutine, or in tests before Start.
func (r *Runtime) HandleMessage(ctx context.Context, trigger models.Message) ReplyOutcome {
	out, reason := r.reply(ctx, trigger)
	ev := r.logger.Debug()
	if out == ReplySent || out == ReplyRejected || out == ReplyError {
		ev = r.logger.Info()
	}
	ev.Str("trigger", trigger.ID).
		Str("from", trigger.From).
		Str("outcome", string(out)).
		Str("reason", reason).
		Msg("handled message")
	return out
}

func (r *Runtime) reply(ctx context.Context, trigger models.Message) (ReplyOutcome, string) {
	if !r.strategy.ShouldReply(trigger) {
		return ReplyGated, ""
	}

	timeout := r.cfg.Proactive.CallTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	recent, err := r.deps.Transport.GetRecentMessages(callCtx, r.cfg.HistoryLimit)
	cancel()
	if err != nil {
		return ReplyError, fmt.Sprintf("history: %v", err)
	}
	callCtx, cancel = context.WithTimeout(ctx, timeout)
	members, err := r.deps.Transport.GetMembers(callCtx)
	cancel()
	if err != nil {
		return ReplyError, fmt.Sprintf("members: %v", err)
	}

	now := r.deps.Now()
	rc := decision.BuildRoomContext(members, recent, now, decision.ContextOpts{})
	d := r.engine.Decide(trigger, rc, recent, r.cfg.Name)
	metrics.ReplyDecisions.WithLabelValues(d.Reason).Inc()
	if !d.Respond {
		return ReplySkipped, d.Reason
	}

	compressor := compress.NewCompressor(compress.CompressorOpts{
		Scorer: compress.Scorer{NewMembers: rc.NewMembers},
		Now:    r.deps.Now,
		Logger: r.logger,
	})
	ctxMsgs := compressor.Compress(recent, &trigger, compress.Options{
		MaxTokens: r.cfg.MaxContextTokens,
		Strategy:  r.cfg.ContextStrategy,
		Self:      r.cfg.Name,
	})

	reasonCtx, cancel := context.WithTimeout(ctx, r.cfg.Proactive.ReasonTimeout)
	text, err := r.deps.Reasoner.Generate(reasonCtx,
		systemPrompt(r.cfg.Name, r.cfg.Persona),
		replyPrompt(ctxMsgs.Messages, trigger, d, r.deps.Filter))
	cancel()
	if err != nil {
		return ReplyError, fmt.Sprintf("reasoning: %v", err)
	}
	if isSkip(text) {
		return ReplyDeclined, d.Reason
	}
	filtered := r.deps.Filter.Filter(text)
	if isSkip(filtered.Text) {
		return ReplyDeclined, d.Reason
	}
	if filtered.Flagged {
		r.logger.Warn().Str("trigger", trigger.ID).Msg("reply altered by output filter")
	}

	callCtx, cancel = context.WithTimeout(ctx, timeout)
	_, err = r.deps.Transport.SendMessage(callCtx, addressed(filtered.Text, d.MentionTarget), trigger.ID)
	cancel()
	if err != nil {
		if _, ok := asRejection(err); ok {
			r.strategy.RecordRejection()
			r.strategy.StartCooldown()
			return ReplyRejected, d.Reason
		}
		return ReplyError, fmt.Sprintf("send: %v", err)
	}

	r.strategy.ResetBackoff()
	r.strategy.StartCooldown()
	return ReplySent, d.Reason
}
