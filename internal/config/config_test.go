package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.LedgerDriver)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.True(t, cfg.Jitter)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, 1000, cfg.CacheCapacity)
	assert.Equal(t, int64(100_000), cfg.DailyTokenLimit)
	assert.Equal(t, int64(2_000_000), cfg.MonthlyTokenLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ESTIGUARD_LISTEN_ADDR", ":9090")
	t.Setenv("ESTIGUARD_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ESTIGUARD_MAX_RETRIES", "5")
	t.Setenv("ESTIGUARD_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("ESTIGUARD_RETRY_JITTER", "false")
	t.Setenv("ESTIGUARD_BREAKER_COOLDOWN", "2m")
	t.Setenv("ESTIGUARD_DAILY_TOKEN_LIMIT", "50000")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.False(t, cfg.Jitter)
	assert.Equal(t, 2*time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, int64(50000), cfg.DailyTokenLimit)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ESTIGUARD_MAX_RETRIES", "not-a-number")
	t.Setenv("ESTIGUARD_RETRY_MULTIPLIER", "-1")
	t.Setenv("ESTIGUARD_BREAKER_COOLDOWN", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
}

func TestConfig_Snapshot(t *testing.T) {
	cfg := Config{
		ListenAddr:       ":8080",
		RedisAddr:        "localhost:6379",
		LedgerDriver:     "sqlite",
		KafkaBrokers:     []string{"kafka-1:9092"},
		MaxRetries:       3,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
		CacheCapacity:    1000,
	}

	snap := cfg.Snapshot()
	assert.Equal(t, true, snap["redisConfigured"])
	assert.Equal(t, true, snap["kafkaConfigured"])
	assert.Equal(t, "sqlite", snap["ledgerDriver"])
	assert.NotContains(t, snap, "redisPassword", "credentials never leak into the snapshot")
}
