package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "MONGO_DB_NAME", "REDIS_URL", "POSTGRES_DSN", "KAFKA_BROKERS",
		"LOCK_TTL", "SWEEP_INTERVAL", "SESSION_TTL", "SESSION_GC_INTERVAL", "SESSION_USED_GRACE",
		"SETTLEMENT_CACHE_TTL", "SWEEP_BATCH_SIZE", "RATE_LIMIT_PER_MINUTE", "AWS_USE_SECRETS",
		"CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("MONGO_DB_URL", "mongodb://localhost:27017")
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("PAYMENT_SECRET", "payment-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8087", cfg.Port)
	assert.Equal(t, "reservations", cfg.MongoDBName)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.SettlementCacheTTL)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCK_TTL", "30m")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("SWEEP_BATCH_SIZE", "50")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.SweepBatchSize)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing mongo":          {"MONGO_DB_URL": ""},
		"missing session secret": {"SESSION_SECRET": ""},
		"missing payment secret": {"PAYMENT_SECRET": ""},
		"unparsable ttl":         {"LOCK_TTL": "soon"},
		"unparsable batch":       {"SWEEP_BATCH_SIZE": "lots"},
		"sweep not shorter":      {"LOCK_TTL": "1m", "SWEEP_INTERVAL": "1m"},
		"negative session ttl":   {"SESSION_TTL": "-1h"},
		"zero rate limit":        {"RATE_LIMIT_PER_MINUTE": "0"},
		"no cors origins":        {"CORS_ALLOWED_ORIGINS": " , "},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
