// Package config provides centralized configuration loaded from environment
// variables, plus the optional YAML schedule file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mndd/notifier/internal/civil"
)

// --------------------------------------------------------------------------
// Backends
// --------------------------------------------------------------------------

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// ErrInvalidConfig wraps every startup configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Bearer token required on /api/v1; empty disables the check
	TriggerToken string

	// Push gateway
	PushURL           string
	PushAccessToken   string
	PushBatchSize     int
	PushTimeout       time.Duration
	PushRatePerSecond float64
	BreakerFailures   int
	BreakerCooldown   time.Duration

	// Claims and leaderboards
	ClaimBackend       string // postgres, redis, memory
	LeaderboardBackend string // postgres, redis
	RedisURL           string
	ClaimTTL           time.Duration

	// Ingress
	ListenEnabled bool
	KafkaEnabled  bool
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string

	// Civil time
	CivilTimezone string
	Location      *time.Location

	// Registry
	RegistryMaxKeysPerQuery int
	RegistryCacheTTL        time.Duration

	// Scheduling
	SchedulerEnabled bool
	ScheduleFile     string
	Schedule         *Schedule
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:8081",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		TriggerToken: envOr("TRIGGER_TOKEN", ""),

		PushURL:           envOr("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		PushAccessToken:   envOr("EXPO_ACCESS_TOKEN", ""),
		PushBatchSize:     envInt("PUSH_BATCH_SIZE", 100),
		PushTimeout:       envDuration("PUSH_TIMEOUT", 15*time.Second),
		PushRatePerSecond: envFloat("PUSH_RATE_PER_SECOND", 6),
		BreakerFailures:   envInt("PUSH_BREAKER_FAILURES", 5),
		BreakerCooldown:   envDuration("PUSH_BREAKER_COOLDOWN", 30*time.Second),

		ClaimBackend:       strings.ToLower(envOr("CLAIM_BACKEND", BackendPostgres)),
		LeaderboardBackend: strings.ToLower(envOr("LEADERBOARD_BACKEND", BackendPostgres)),
		RedisURL:           envOr("REDIS_URL", ""),
		ClaimTTL:           envDuration("CLAIM_TTL", 30*24*time.Hour),

		ListenEnabled: envBool("LISTEN_ENABLED", true),
		KafkaEnabled:  envBool("KAFKA_ENABLED", false),
		KafkaBrokers:  envList("KAFKA_BROKERS", nil),
		KafkaTopic:    envOr("KAFKA_TOPIC", "notify-requests"),
		KafkaGroupID:  envOr("KAFKA_GROUP_ID", "notifier"),

		CivilTimezone: envOr("CIVIL_TIMEZONE", civil.DefaultTimezone),

		RegistryMaxKeysPerQuery: envInt("REGISTRY_MAX_KEYS_PER_QUERY", 10),
		RegistryCacheTTL:        envDuration("REGISTRY_CACHE_TTL", 0),

		SchedulerEnabled: envBool("SCHEDULER_ENABLED", true),
		ScheduleFile:     envOr("SCHEDULE_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := civil.LoadLocation(cfg.CivilTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Location = loc

	sched, err := LoadSchedule(cfg.ScheduleFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Schedule = sched

	return cfg, nil
}

// Validate reports configuration that must stop startup.
func (c *Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL must be set")
	}
	switch c.ClaimBackend {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "CLAIM_BACKEND=redis requires REDIS_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown CLAIM_BACKEND %q", c.ClaimBackend))
	}
	switch c.LeaderboardBackend {
	case BackendPostgres:
	case BackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "LEADERBOARD_BACKEND=redis requires REDIS_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LEADERBOARD_BACKEND %q", c.LeaderboardBackend))
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		problems = append(problems, "KAFKA_ENABLED requires KAFKA_BROKERS")
	}
	if c.PushBatchSize <= 0 || c.PushBatchSize > 100 {
		problems = append(problems, "PUSH_BATCH_SIZE must be between 1 and 100")
	}
	if c.RegistryMaxKeysPerQuery <= 0 {
		problems = append(problems, "REGISTRY_MAX_KEYS_PER_QUERY must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsesRedis reports whether any backend needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.ClaimBackend == BackendRedis || c.LeaderboardBackend == BackendRedis
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
