// Package admission decides whether the room accepts an inbound message.
//
// Three tiers are checked in order: a room-wide sliding window over
// admitted agent messages, a per-identity token bucket, and a cap on the
// share of agent-authored messages in the trailing window. Humans are
// never throttled.
package admission

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/models"
)

// Rejection reasons.
const (
	ReasonGlobalRate   = "global_rate_limit"
	ReasonIdentityRate = "identity_rate_limit"
	ReasonAgentRatio   = "agent_ratio"
)

// Default policy. These have no tuning rationale beyond keeping a shared
// room readable; deployments override them through Limits.
const (
	DefaultWindow            = 60 * time.Second
	DefaultGlobalAgentLimit  = 15
	DefaultBucketCapacity    = 5
	DefaultRefillPerSecond   = 1.0
	DefaultMaxAgentRatio     = 0.7
	DefaultMinRatioSample    = 1
	DefaultRatioRetryAfter   = 5 * time.Second
	DefaultMaxTrackedBuckets = 10000
)

// Limits holds the admission policy.
type Limits struct {
	Window            time.Duration
	GlobalAgentLimit  int
	BucketCapacity    int
	RefillPerSecond   float64
	MaxAgentRatio     float64
	MinRatioSample    int // ratio is only checked once this many messages are in the window
	RatioRetryAfter   time.Duration
	MaxTrackedBuckets int
}

// DefaultLimits returns the stock policy.
func DefaultLimits() Limits {
	return Limits{
		Window:            DefaultWindow,
		GlobalAgentLimit:  DefaultGlobalAgentLimit,
		BucketCapacity:    DefaultBucketCapacity,
		RefillPerSecond:   DefaultRefillPerSecond,
		MaxAgentRatio:     DefaultMaxAgentRatio,
		MinRatioSample:    DefaultMinRatioSample,
		RatioRetryAfter:   DefaultRatioRetryAfter,
		MaxTrackedBuckets: DefaultMaxTrackedBuckets,
	}
}

func (l *Limits) applyDefaults() {
	d := DefaultLimits()
	if l.Window <= 0 {
		l.Window = d.Window
	}
	if l.GlobalAgentLimit <= 0 {
		l.GlobalAgentLimit = d.GlobalAgentLimit
	}
	if l.BucketCapacity <= 0 {
		l.BucketCapacity = d.BucketCapacity
	}
	if l.RefillPerSecond <= 0 {
		l.RefillPerSecond = d.RefillPerSecond
	}
	if l.MaxAgentRatio <= 0 {
		l.MaxAgentRatio = d.MaxAgentRatio
	}
	if l.MinRatioSample <= 0 {
		l.MinRatioSample = d.MinRatioSample
	}
	if l.RatioRetryAfter <= 0 {
		l.RatioRetryAfter = d.RatioRetryAfter
	}
	if l.MaxTrackedBuckets <= 0 {
		l.MaxTrackedBuckets = d.MaxTrackedBuckets
	}
}

// Decision is the outcome of an admission check. A rejection is an
// expected result, not an error.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`

	// Set on agent admissions so Refund can undo them.
	identity string
	at       time.Time
	token    *rate.Reservation
}

// Stats is a point-in-time snapshot of controller state.
type Stats struct {
	WindowCount    int `json:"window_count"`
	WindowLimit    int `json:"window_limit"`
	TrackedBuckets int `json:"tracked_buckets"`
}

// Controller is the room-wide admission gate. All state is guarded by a
// single mutex so that check-then-record cannot over-admit.
type Controller struct {
	mu      sync.Mutex
	limits  Limits
	window  []int64 // admitted agent timestamps, Unix ms, oldest first
	buckets *lru.Cache[string, *rate.Limiter]
	now     func() time.Time
	logger  zerolog.Logger
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Limits Limits
	Now    func() time.Time // defaults to time.Now
	Logger zerolog.Logger
}

// NewController creates a Controller. Zero-valued limits take defaults.
func NewController(opts ControllerOpts) (*Controller, error) {
	limits := opts.Limits
	limits.applyDefaults()

	buckets, err := lru.New[string, *rate.Limiter](limits.MaxTrackedBuckets)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		limits:  limits,
		buckets: buckets,
		now:     now,
		logger:  opts.Logger,
	}, nil
}

// Limits returns the active policy.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit checks whether identity may post now. recent should hold the
// room's messages from at least the trailing window; older entries are
// ignored. On success the admission is recorded and one token consumed.
//
// recent is read before the lock is taken, so concurrent agent posts can
// each pass the ratio check against the same sample. The global window
// and the buckets are exact.
func (c *Controller) Admit(identity string, kind models.SenderKind, recent []models.Message) Decision {
	if kind != models.KindAgent {
		metrics.AdmissionDecisions.WithLabelValues("human").Inc()
		return Decision{Allowed: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	nowMs := now.UnixMilli()
	windowMs := c.limits.Window.Milliseconds()

	c.prune(nowMs - windowMs)
	if len(c.window) >= c.limits.GlobalAgentLimit {
		retry := c.window[0] + windowMs - nowMs
		return c.reject(identity, ReasonGlobalRate, max(retry, 1))
	}

	bucket := c.bucket(identity)
	if tokens := bucket.TokensAt(now); tokens < 1 {
		deficit := 1 - tokens
		retry := int64(math.Ceil(deficit / c.limits.RefillPerSecond * 1000))
		return c.reject(identity, ReasonIdentityRate, max(retry, 1))
	}

	total, agents := 0, 0
	for _, m := range recent {
		if m.Deleted || m.Timestamp < nowMs-windowMs {
			continue
		}
		total++
		if m.IsAgent() {
			agents++
		}
	}
	if total > 0 && total >= c.limits.MinRatioSample &&
		float64(agents)/float64(total) > c.limits.MaxAgentRatio {
		return c.reject(identity, ReasonAgentRatio, c.limits.RatioRetryAfter.Milliseconds())
	}

	c.window = append(c.window, nowMs)
	token := bucket.ReserveN(now, 1)

	metrics.AdmissionDecisions.WithLabelValues("admitted").Inc()
	return Decision{Allowed: true, identity: identity, at: now, token: token}
}

// Refund undoes an agent admission whose message was never stored: the
// window entry is dropped and the token returned. Call it at most once per
// Decision; human and rejected decisions are ignored.
func (c *Controller) Refund(d Decision) {
	if !d.Allowed || d.token == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	at := d.at.UnixMilli()
	for i := len(c.window) - 1; i >= 0; i-- {
		if c.window[i] == at {
			c.window = append(c.window[:i], c.window[i+1:]...)
			break
		}
	}
	// Cancelling at the admission instant restores the full token.
	d.token.CancelAt(d.at)

	metrics.AdmissionDecisions.WithLabelValues("refunded").Inc()
	c.logger.Debug().Str("identity", d.identity).Msg("admission refunded")
}

// Tokens reports the tokens currently available to identity. Identities
// that have never posted report a full bucket.
func (c *Controller) Tokens(identity string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets.Peek(identity)
	if !ok {
		return float64(c.limits.BucketCapacity)
	}
	return b.TokensAt(c.now())
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.now().UnixMilli() - c.limits.Window.Milliseconds())
	return Stats{
		WindowCount:    len(c.window),
		WindowLimit:    c.limits.GlobalAgentLimit,
		TrackedBuckets: c.buckets.Len(),
	}
}

// Forget drops identity's bucket, e.g. after it leaves the room.
func (c *Controller) Forget(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets.Remove(identity)
}

// prune drops window entries at or before cutoff. Caller holds mu.
func (c *Controller) prune(cutoff int64) {
	i := 0
	for i < len(c.window) && c.window[i] <= cutoff {
		i++
	}
	if i > 0 {
		c.window = append(c.window[:0], c.window[i:]...)
	}
}

// bucket returns identity's token bucket, creating a full one. Caller holds mu.
func (c *Controller) bucket(identity string) *rate.Limiter {
	if b, ok := c.buckets.Get(identity); ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(c.limits.RefillPerSecond), c.limits.BucketCapacity)
	c.buckets.Add(identity, b)
	return b
}

// reject records and returns a rejection. Caller holds mu.
func (c *Controller) reject(identity, reason string, retryAfterMs int64) Decision {
	metrics.AdmissionDecisions.WithLabelValues(reason).Inc()
	c.logger.Info().
		Str("identity", identity).
		Str("reason", reason).
		Int64("retry_after_ms", retryAfterMs).
		Msg("message rejected")
	return Decision{Allowed: false, Reason: reason, RetryAfterMs: retryAfterMs}
}
