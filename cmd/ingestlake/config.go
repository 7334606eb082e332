package main

import (
	"fmt"

	"github.com/healthlake-io/ingestlake/internal/batch"
	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/orchestrator"
)

// Config holds all configuration for the ingestion engine CLI.
type Config struct {
	DatabaseURL string
	Orchestrator orchestrator.Config
	ObjectStorePrefix string
	PathGlob          string
	BatchMode         batch.Mode
	MetricsAddr       string
	HandlerOverridesPath string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	mode := batch.ModeBackfill
	if config.GetEnvStr("PROCESSING_MODE", "backfill") == "latest" {
		mode = batch.ModeLatest
	}

	cfg := &Config{
		DatabaseURL:       config.GetEnvStr("DATABASE_URL", ""),
		Orchestrator:      *orchestrator.LoadConfig(),
		ObjectStorePrefix: config.GetEnvStr("OBJECT_STORE_PREFIX", ""),
		PathGlob:          config.GetEnvStr("DISCOVERY_PATH_GLOB", "**/*.csv"),
		BatchMode:         mode,
		MetricsAddr:       config.GetEnvStr("METRICS_ADDR", ":9090"),
		HandlerOverridesPath: config.GetEnvStr("HANDLER_OVERRIDES_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	return nil
}
