package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/metrics"
)

const (
	joinKeyPrefix      = "agora:join:"
	violationKeyPrefix = "agora:join:violations:"
	blockKeyPrefix     = "agora:blocked:"

	// An IP that trips the guard this many times within violationWindow
	// is blocked for blockDuration.
	violationLimit  = 10
	violationWindow = time.Hour
	blockDuration   = 24 * time.Hour
)

// JoinGuardConfig configures the join flood guard.
type JoinGuardConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from the guard
	AutoBlockEnabled bool     // block IPs that keep tripping the guard
	JoinsPerHour     int      // per-IP join budget, 10 when zero
}

// JoinGuard caps how often one IP may join the room. Joins are counted in
// a Redis sorted set per IP, so the window slides instead of resetting.
type JoinGuard struct {
	client    *redis.Client
	logger    zerolog.Logger
	limit     int
	window    time.Duration
	prefixes  []netip.Prefix
	autoBlock bool
	now       func() time.Time
}

// NewJoinGuard builds a guard over client. Invalid whitelist entries are
// logged and skipped.
func NewJoinGuard(client *redis.Client, logger zerolog.Logger, cfg JoinGuardConfig) *JoinGuard {
	g := &JoinGuard{
		client:    client,
		logger:    logger,
		limit:     cfg.JoinsPerHour,
		window:    time.Hour,
		autoBlock: cfg.AutoBlockEnabled,
		now:       time.Now,
	}
	if g.limit <= 0 {
		g.limit = 10
	}

	for _, entry := range cfg.Whitelist {
		p, err := parsePrefix(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid whitelist entry")
			continue
		}
		g.prefixes = append(g.prefixes, p)
	}
	if len(g.prefixes) > 0 {
		logger.Info().Int("entries", len(g.prefixes)).Msg("join guard whitelist configured")
	}
	return g
}

// parsePrefix accepts a bare address as a single-host prefix.
func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (g *JoinGuard) exempt(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range g.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RealIP extracts the client IP from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Admit records a join attempt from ip and reports whether it fits the
// window, how many joins remain, and when the oldest counted join expires.
// Redis failures admit the join.
func (g *JoinGuard) Admit(ctx context.Context, ip string) (bool, int, time.Time) {
	now := g.now()
	key := joinKeyPrefix + ip

	start := time.Now()
	pipe := g.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-g.window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, g.window)
	_, err := pipe.Exec(ctx)
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		g.logger.Error().Err(err).Str("ip", ip).Msg("join guard check failed")
		return true, g.limit, now.Add(g.window)
	}

	count := int(countCmd.Val())
	resetAt := now.Add(g.window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(g.window)
	}
	return count < g.limit, max(g.limit-count-1, 0), resetAt
}

func (g *JoinGuard) blocked(ctx context.Context, ip string) bool {
	n, err := g.client.Exists(ctx, blockKeyPrefix+ip).Result()
	return err == nil && n > 0
}

// Block bars ip from joining for d.
func (g *JoinGuard) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	return g.client.Set(ctx, blockKeyPrefix+ip, reason, d).Err()
}

// Unblock lifts a block early.
func (g *JoinGuard) Unblock(ctx context.Context, ip string) error {
	return g.client.Del(ctx, blockKeyPrefix+ip).Err()
}

func (g *JoinGuard) recordViolation(ctx context.Context, ip string) {
	if !g.autoBlock {
		return
	}
	key := violationKeyPrefix + ip
	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Error().Err(err).Str("ip", ip).Msg("join guard violation not recorded")
		return
	}
	if n := incr.Val(); n >= violationLimit {
		if err := g.Block(ctx, ip, blockDuration, "repeated join floods"); err != nil {
			g.logger.Error().Err(err).Str("ip", ip).Msg("auto-block failed")
			return
		}
		g.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", n).
			Msg("IP auto-blocked for repeated join floods")
	}
}

// Middleware guards the join handler it wraps.
func (g *JoinGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if g.exempt(ip) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		if g.blocked(ctx, ip) {
			g.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_join").
				Str("ip", ip).
				Msg("blocked IP attempted to join")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		ok, remaining, resetAt := g.Admit(ctx, ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(g.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := int(math.Ceil(resetAt.Sub(g.now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
		metrics.JoinFloodHits.Inc()
		g.recordViolation(ctx, ip)
		g.logger.Warn().
			Str("type", "security").
			Str("event", "join_flood").
			Str("ip", ip).
			Msg("join rate exceeded")
		jsonError(w, http.StatusTooManyRequests, "too many joins, try again later")
	})
}
