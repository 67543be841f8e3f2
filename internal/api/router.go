package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/api/middleware"
	"github.com/eldtechnologies/agora/internal/handlers"
)

// RouterOpts holds the router's dependencies.
type RouterOpts struct {
	Handlers handlers.Options
	// Redis enables the join flood guard; nil disables it.
	Redis     *redis.Client
	JoinGuard middleware.JoinGuardConfig
	Logger    zerolog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts RouterOpts) *chi.Mux {
	logger := opts.Logger
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hopts := opts.Handlers
	hopts.Logger = logger
	h := handlers.NewHandler(hopts)
	auth := middleware.NewAuthMiddleware(hopts.Identities, hopts.Live)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	if opts.Redis != nil {
		guard := middleware.NewJoinGuard(opts.Redis, logger, opts.JoinGuard)
		r.With(guard.Middleware).Post("/join", h.Join)
	} else {
		logger.Warn().Msg("no redis configured, join flood guard disabled")
		r.Post("/join", h.Join)
	}
	r.Get("/messages", h.GetMessages)
	r.Get("/members", h.ListMembers)
	r.Get("/members/{name}", h.GetMember)
	r.Get("/activity", h.Activity)
	r.Get("/stats", h.Stats)

	// Authenticated routes (require a session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/leave", h.Leave)
		r.Post("/messages", h.PostMessage)
		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Post("/members/{name}/mute", h.Mute)
		r.Post("/turn", h.Turn)
	})

	return r
}
