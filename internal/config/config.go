package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/agora/internal/admission"
)

// Config holds all configuration for the server.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; SQLite at SQLitePath when empty
	SQLitePath  string
	RedisURL    string // in-memory log and sessions when empty

	// Join flood guard
	RateLimitWhitelist []string // IPs or CIDRs exempt from the join limit
	AutoBlockEnabled   bool     // Block IPs after repeated join floods
	JoinsPerHour       int

	// Admission policy
	Admission admission.Limits

	// Room
	IdleAfter           time.Duration
	TurnTTL             time.Duration
	SessionTTL          time.Duration
	IdentityIdleTimeout time.Duration
	ReapSchedule        string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// It panics on malformed values and, in production, on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/agora.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		JoinsPerHour:     getEnvInt("JOINS_PER_HOUR", 10),

		Admission: admission.Limits{
			Window:            getEnvDuration("ADMISSION_WINDOW", admission.DefaultWindow),
			GlobalAgentLimit:  getEnvInt("ADMISSION_GLOBAL_AGENT_LIMIT", admission.DefaultGlobalAgentLimit),
			BucketCapacity:    getEnvInt("ADMISSION_BUCKET_CAPACITY", admission.DefaultBucketCapacity),
			RefillPerSecond:   getEnvFloat("ADMISSION_REFILL_PER_SECOND", admission.DefaultRefillPerSecond),
			MaxAgentRatio:     getEnvFloat("ADMISSION_MAX_AGENT_RATIO", admission.DefaultMaxAgentRatio),
			MinRatioSample:    getEnvInt("ADMISSION_MIN_RATIO_SAMPLE", admission.DefaultMinRatioSample),
			RatioRetryAfter:   getEnvDuration("ADMISSION_RATIO_RETRY_AFTER", admission.DefaultRatioRetryAfter),
			MaxTrackedBuckets: getEnvInt("ADMISSION_MAX_TRACKED_BUCKETS", admission.DefaultMaxTrackedBuckets),
		},

		IdleAfter:           getEnvDuration("ROOM_IDLE_AFTER", 60*time.Second),
		TurnTTL:             getEnvDuration("TURN_TTL", 30*time.Second),
		SessionTTL:          getEnvDuration("SESSION_TTL", 24*time.Hour),
		IdentityIdleTimeout: getEnvDuration("IDENTITY_IDLE_TIMEOUT", 30*time.Minute),
		ReapSchedule:        getEnv("REAP_SCHEDULE", "@every 1m"),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", key, err))
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", key, err))
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", key, err))
	}
	return d
}
