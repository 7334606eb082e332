package orchestrator

import (
	"time"

	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/staging"
)

const (
	defaultRawWorkers     = 5
	defaultStagingWorkers = 3
	defaultRunDeadline    = 6 * time.Hour
)

// Config controls pool sizes, deadline, error-tolerance policy, and the
// staging transformer's type-coercion surface for one orchestrator run.
type Config struct {
	RawWorkers     int
	StagingWorkers int
	RunDeadline    time.Duration
	ContinueOnError bool
	ErrorThreshold float64
	DryRun         bool
	Staging        staging.Options
}

// LoadConfig loads orchestrator configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		RawWorkers:      config.GetEnvInt("PROCESSING_MAX_CONCURRENT_FILES", defaultRawWorkers),
		StagingWorkers:  config.GetEnvInt("STAGING_MAX_CONCURRENT_TRANSFORMS", defaultStagingWorkers),
		RunDeadline:     config.GetEnvDuration("PROCESSING_TIMEOUT", defaultRunDeadline),
		ContinueOnError: config.GetEnvBool("RAW_LOADER_CONTINUE_ON_ERROR", true),
		ErrorThreshold:  config.GetEnvFloat("RAW_LOADER_ERROR_THRESHOLD", 0.10),
		DryRun:          config.GetEnvBool("DRY_RUN", false),
		Staging: staging.Options{
			BatchSize:           config.GetEnvInt("STAGING_BATCH_SIZE", 0),
			TrimStrings:         config.GetEnvBool("STAGING_TRIM_STRINGS", true),
			NullifyEmptyStrings: config.GetEnvBool("STAGING_NULLIFY_EMPTY_STRINGS", true),
			MaxErrorsPerBatch:   config.GetEnvInt("STAGING_MAX_ERRORS_PER_BATCH", 0),
			MaxTotalErrors:      config.GetEnvInt("STAGING_MAX_TOTAL_ERRORS", 0),
			MaxRetries:          config.GetEnvInt("STAGING_MAX_RETRIES", 0),
			DisableTypeCoercion: !config.GetEnvBool("STAGING_ENABLE_TYPE_COERCION", true),
			AllowInvalidRows:    !config.GetEnvBool("STAGING_REJECT_INVALID_ROWS", true),
			DateFormat:          config.GetEnvStr("STAGING_DATE_FORMAT", ""),
			TimestampFormat:     config.GetEnvStr("STAGING_TIMESTAMP_FORMAT", ""),
			DecimalPrecision:    config.GetEnvInt("STAGING_DECIMAL_PRECISION", 0),
		},
	}
}
