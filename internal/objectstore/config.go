package objectstore

import (
	"errors"
	"time"

	"github.com/healthlake-io/ingestlake/internal/config"
)

const (
	defaultMaxConcurrency    = 10
	defaultRetryAttempts     = 3
	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 50.0
)

// ErrBucketEmpty is returned when no bucket is configured.
var ErrBucketEmpty = errors.New("objectstore: bucket cannot be empty")

// Config holds object-store connection settings, following the env-driven
// LoadConfig/Validate pattern used by every config struct in this codebase.
type Config struct {
	Bucket            string
	Region            string
	Prefix            string
	MaxConcurrency    int
	RetryAttempts     int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// LoadConfig loads object-store configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Bucket:            config.GetEnvStr("OBJECT_STORE_BUCKET", ""),
		Region:            config.GetEnvStr("OBJECT_STORE_REGION", "us-east-1"),
		Prefix:            config.GetEnvStr("OBJECT_STORE_PREFIX", ""),
		MaxConcurrency:    config.GetEnvInt("OBJECT_STORE_MAX_CONCURRENCY", defaultMaxConcurrency),
		RetryAttempts:     config.GetEnvInt("OBJECT_STORE_RETRY_ATTEMPTS", defaultRetryAttempts),
		Timeout:           config.GetEnvDuration("OBJECT_STORE_TIMEOUT", defaultTimeout),
		RequestsPerSecond: config.GetEnvFloat("OBJECT_STORE_REQUESTS_PER_SECOND", defaultRequestsPerSecond),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return ErrBucketEmpty
	}

	return nil
}
