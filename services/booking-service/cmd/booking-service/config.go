package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string
	LogLevel string

	StorageBackend string
	DatabaseURL    string
	DBMaxConns     int

	HoldTTL          time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	ExposureCacheTTL time.Duration
	ExposureMin      int
	ExposureMax      int

	KafkaBrokers    []string
	OutboxPollEvery time.Duration

	RedisAddr          string
	RateLimitPerMinute int
	AdminKeyHash       string
	CORSOrigins        []string
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:        config.String("SERVICE_NAME", "booking-service"),
		LogLevel:       config.String("LOG_LEVEL", "info"),
		StorageBackend: strings.ToLower(config.String("STORAGE_BACKEND", "postgres")),
		KafkaBrokers:   kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		AdminKeyHash:   config.String("ADMIN_API_KEY_BCRYPT", ""),
		CORSOrigins:    config.List("CORS_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		return cfg, err
	}
	if raw := config.String("GRPC_PORT", ""); raw != "" {
		if cfg.GRPCPort, err = config.Port("GRPC_PORT", ""); err != nil {
			return cfg, err
		}
	}

	switch cfg.StorageBackend {
	case "postgres":
		if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return cfg, err
		}
		if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
			return cfg, err
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("STORAGE_BACKEND must be postgres or memory (got %q)", cfg.StorageBackend)
	}

	if cfg.HoldTTL, err = config.Duration("HOLD_TTL", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = config.Duration("EXPIRY_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SweepBatchSize, err = config.Int("EXPIRY_BATCH_SIZE", 200); err != nil {
		return cfg, err
	}
	if cfg.ExposureCacheTTL, err = config.Duration("EXPOSURE_CACHE_TTL", 420*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ExposureMin, err = config.Int("EXPOSURE_MIN_SLOTS", 2); err != nil {
		return cfg, err
	}
	if cfg.ExposureMax, err = config.Int("EXPOSURE_MAX_SLOTS", 5); err != nil {
		return cfg, err
	}
	if cfg.ExposureMax < cfg.ExposureMin {
		return cfg, fmt.Errorf("EXPOSURE_MAX_SLOTS (%d) must be >= EXPOSURE_MIN_SLOTS (%d)", cfg.ExposureMax, cfg.ExposureMin)
	}
	if cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	return cfg, nil
}
