package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries the static configuration surface for the resilience layer.
// Backing-store addresses come from the environment; tuning knobs have
// defaults that match production and can be overridden per deployment.
type Config struct {
	ListenAddr string

	// Rate-window store. Empty RedisAddr means in-process windows.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Usage ledger persistence. Empty driver means in-memory only.
	LedgerDriver string // "sqlite" or "postgres"
	LedgerDSN    string

	// Optional usage event stream.
	KafkaBrokers []string

	// Optional OTLP trace export.
	OTLPEndpoint string

	// Dispatcher retry defaults.
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	Jitter            bool

	// Circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Degraded-mode response cache.
	CacheCapacity int

	// Per-user token quotas.
	DailyTokenLimit   int64
	MonthlyTokenLimit int64
}

func Load() Config {
	return Config{
		ListenAddr:        getenv("ESTIGUARD_LISTEN_ADDR", ":8080"),
		RedisAddr:         getenv("ESTIGUARD_REDIS_ADDR", ""),
		RedisPassword:     getenv("ESTIGUARD_REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("ESTIGUARD_REDIS_DB", 0),
		LedgerDriver:      getenv("ESTIGUARD_LEDGER_DRIVER", ""),
		LedgerDSN:         getenv("ESTIGUARD_LEDGER_DSN", ""),
		KafkaBrokers:      getenvList("ESTIGUARD_KAFKA_BROKERS"),
		OTLPEndpoint:      getenv("ESTIGUARD_OTLP_ENDPOINT", ""),
		MaxRetries:        getenvInt("ESTIGUARD_MAX_RETRIES", 3),
		InitialDelay:      getenvDuration("ESTIGUARD_RETRY_INITIAL_DELAY", time.Second),
		BackoffMultiplier: getenvFloat("ESTIGUARD_RETRY_MULTIPLIER", 2.0),
		Jitter:            getenv("ESTIGUARD_RETRY_JITTER", "true") == "true",
		BreakerThreshold:  getenvInt("ESTIGUARD_BREAKER_THRESHOLD", 5),
		BreakerCooldown:   getenvDuration("ESTIGUARD_BREAKER_COOLDOWN", time.Minute),
		CacheCapacity:     getenvInt("ESTIGUARD_CACHE_CAPACITY", 1000),
		DailyTokenLimit:   getenvInt64("ESTIGUARD_DAILY_TOKEN_LIMIT", 100_000),
		MonthlyTokenLimit: getenvInt64("ESTIGUARD_MONTHLY_TOKEN_LIMIT", 2_000_000),
	}
}

// Snapshot returns a diagnostic view safe to expose on an ops endpoint.
func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"listenAddr":       c.ListenAddr,
		"redisConfigured":  c.RedisAddr != "",
		"ledgerDriver":     c.LedgerDriver,
		"kafkaConfigured":  len(c.KafkaBrokers) > 0,
		"maxRetries":       c.MaxRetries,
		"breakerThreshold": c.BreakerThreshold,
		"breakerCooldown":  c.BreakerCooldown.String(),
		"cacheCapacity":    c.CacheCapacity,
	}
}

func getenv(k, fallback string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getenvInt64(k string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getenvFloat(k string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getenvList(k string) []string {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
