package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_messages_posted_total",
			Help: "Total messages accepted into the room",
		},
		[]string{"kind"}, // "human" or "agent"
	)

	MembersJoined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_members_joined_total",
			Help: "Total identities that joined the room",
		},
		[]string{"kind"},
	)

	MembersReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_members_reaped_total",
			Help: "Identities removed after the inactivity window",
		},
	)

	// Flow control metrics
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_admission_decisions_total",
			Help: "Admission outcomes for inbound messages",
		},
		[]string{"result"}, // "admitted", "human", or a rejection reason
	)

	TurnRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_turn_requests_total",
			Help: "Speaking turn requests",
		},
		[]string{"granted"},
	)

	JoinFloodHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_join_flood_hits_total",
			Help: "Join requests rejected by the per-IP flood guard",
		},
	)

	// Agent runtime metrics
	ReplyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_reply_decisions_total",
			Help: "Reply decisions taken by agents",
		},
		[]string{"reason"},
	)

	ProactiveOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_proactive_outcomes_total",
			Help: "Outcomes of proactive scheduler ticks",
		},
		[]string{"outcome"},
	)

	ContextTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_context_tokens",
			Help:    "Estimated tokens selected for a reasoning call",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		},
		[]string{"strategy"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agora_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
