package envconfig

import (
	"fmt"
	"time"
)

// ReportingConfig configures the session event ledger and its relay.
type ReportingConfig struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
	RelayInterval time.Duration
	RelayBatch    int
	// HealthAddr is where session-relay serves /health. Empty disables it.
	HealthAddr string
}

// Enabled reports whether session events should be written to the database.
func (r ReportingConfig) Enabled() bool {
	return r.DatabaseURL != ""
}

// LoadReporting reads the E2E_* reporting variables from env.
func LoadReporting(env Snapshot) (ReportingConfig, error) {
	cfg := ReportingConfig{
		DatabaseURL:   env.getOrDefault("E2E_DATABASE_URL", ""),
		RedisAddr:     env.getOrDefault("E2E_REDIS_ADDR", "localhost:6379"),
		RedisPassword: env.getOrDefault("E2E_REDIS_PASSWORD", ""),
		Stream:        env.getOrDefault("E2E_EVENT_STREAM", "stream:e2e_sessions"),
		HealthAddr:    env.getOrDefault("E2E_RELAY_HEALTH_ADDR", ""),
	}

	var err error
	if cfg.RedisDB, err = env.getIntOrDefault("E2E_REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.RelayInterval, err = env.getDurationOrDefault("E2E_RELAY_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RelayBatch, err = env.getIntOrDefault("E2E_RELAY_BATCH", 100); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (r ReportingConfig) Validate() error {
	if r.RelayBatch < 1 {
		return fmt.Errorf("E2E_RELAY_BATCH must be at least 1")
	}
	if r.RelayInterval <= 0 {
		return fmt.Errorf("E2E_RELAY_INTERVAL must be positive")
	}
	return nil
}
