package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
)

// Config holds all configuration for the reservation-service.
type Config struct {
	Env  string
	Port string

	MongoURL    string
	MongoDBName string
	RedisURL    string
	// PostgresDSN is optional; without it the reconciliation ledger is off.
	PostgresDSN string

	LockTTL            time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	SessionTTL         time.Duration
	SessionGCInterval  time.Duration
	SessionUsedGrace   time.Duration
	SettlementCacheTTL time.Duration

	SessionSecret       string
	PaymentSecret       string
	StripeWebhookSecret string

	SNSOrderTopicArn      string
	OrderLinkBaseURL      string
	KafkaBrokers          []string
	KafkaOrderTopic       string
	PaymentEventsQueueURL string

	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

// LoadConfig reads .env (if present) and the environment, then applies
// Secrets Manager overrides when AWS_USE_SECRETS=true.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Env:                   getEnv("ENV", "development"),
		Port:                  getEnv("PORT", "8087"),
		MongoURL:              os.Getenv("MONGO_DB_URL"),
		MongoDBName:           getEnv("MONGO_DB_NAME", "reservations"),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		SessionSecret:         os.Getenv("SESSION_SECRET"),
		PaymentSecret:         os.Getenv("PAYMENT_SECRET"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SNSOrderTopicArn:      os.Getenv("SNS_ORDER_TOPIC_ARN"),
		OrderLinkBaseURL:      getEnv("ORDER_LINK_BASE_URL", "http://localhost:3000"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:       getEnv("KAFKA_ORDER_TOPIC", "reservation-events"),
		PaymentEventsQueueURL: os.Getenv("PAYMENT_EVENTS_QUEUE_URL"),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}
	cfg.LockTTL = getDuration("LOCK_TTL", 15*time.Minute, &errs)
	cfg.SweepInterval = getDuration("SWEEP_INTERVAL", time.Minute, &errs)
	cfg.SessionTTL = getDuration("SESSION_TTL", time.Hour, &errs)
	cfg.SessionGCInterval = getDuration("SESSION_GC_INTERVAL", 10*time.Minute, &errs)
	cfg.SessionUsedGrace = getDuration("SESSION_USED_GRACE", 10*time.Minute, &errs)
	cfg.SettlementCacheTTL = getDuration("SETTLEMENT_CACHE_TTL", 24*time.Hour, &errs)
	cfg.SweepBatchSize = getInt("SWEEP_BATCH_SIZE", 500, &errs)
	cfg.RateLimitPerMinute = getInt("RATE_LIMIT_PER_MINUTE", 120, &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		sm := awspkg.NewSecretsClient(awsCfg)
		if err := sm.Override(ctx, map[string]*string{
			"reservation/SESSION_SECRET":        &cfg.SessionSecret,
			"reservation/PAYMENT_SECRET":        &cfg.PaymentSecret,
			"reservation/STRIPE_WEBHOOK_SECRET": &cfg.StripeWebhookSecret,
		}); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.MongoURL == "" {
		errs = append(errs, fmt.Errorf("MONGO_DB_URL is required"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, fmt.Errorf("SESSION_SECRET is required"))
	}
	if c.PaymentSecret == "" {
		errs = append(errs, fmt.Errorf("PAYMENT_SECRET is required"))
	}
	for name, d := range map[string]time.Duration{
		"LOCK_TTL":             c.LockTTL,
		"SWEEP_INTERVAL":       c.SweepInterval,
		"SESSION_TTL":          c.SessionTTL,
		"SESSION_GC_INTERVAL":  c.SessionGCInterval,
		"SETTLEMENT_CACHE_TTL": c.SettlementCacheTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SweepInterval > 0 && c.LockTTL > 0 && c.SweepInterval >= c.LockTTL {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL (%s) must be shorter than LOCK_TTL (%s)", c.SweepInterval, c.LockTTL))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if len(c.CORSAllowedOrigins) == 0 {
		errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS must name at least one origin"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
