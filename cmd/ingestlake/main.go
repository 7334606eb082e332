// Package main provides the ingestion engine CLI for Ingestlake.
//
// It wires the object-store adapter, the run registry, and the
// orchestrator into a single run: discover new extract files, plan them
// into batches, raw-load them, and stage them, honoring idempotency end
// to end.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/healthlake-io/ingestlake/internal/batch"
	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/handler"
	"github.com/healthlake-io/ingestlake/internal/metricsserver"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
	"github.com/healthlake-io/ingestlake/internal/orchestrator"
	"github.com/healthlake-io/ingestlake/internal/rawloader"
	"github.com/healthlake-io/ingestlake/internal/registry"
	"github.com/healthlake-io/ingestlake/internal/staging"
)

const (
	version = "1.0.0-dev"
	name    = "ingestlake"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		dryRun      = flag.Bool("dry-run", false, "Run discovery and planning without writing to raw or stg")
		latest      = flag.Bool("latest", false, "Process every discovered batch newest-first (overrides PROCESSING_MODE)")
		backfill    = flag.Bool("backfill", false, "Process every discovered batch oldest-first (overrides PROCESSING_MODE)")
		triggeredBy = flag.String("triggered-by", "cli", "Value recorded as the load run's triggered_by")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(int(orchestrator.ExitConfigurationError))
	}

	cfg.Orchestrator.DryRun = cfg.Orchestrator.DryRun || *dryRun

	switch {
	case *latest:
		cfg.BatchMode = batch.ModeLatest
	case *backfill:
		cfg.BatchMode = batch.ModeBackfill
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	exitCode, err := run(ctx, cfg, *triggeredBy)
	if err != nil {
		log.Printf("run failed: %v", err)
	}

	os.Exit(int(exitCode))
}

func run(ctx context.Context, cfg *Config, triggeredBy string) (orchestrator.ExitCode, error) {
	if cfg.HandlerOverridesPath != "" {
		if err := handler.LoadOverrides(cfg.HandlerOverridesPath); err != nil {
			return orchestrator.ExitConfigurationError, fmt.Errorf("loading handler overrides: %w", err)
		}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return orchestrator.ExitConfigurationError, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return orchestrator.ExitConfigurationError, fmt.Errorf("connecting to database: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	ms := metricsserver.New(cfg.MetricsAddr, logger)
	ms.Start()
	defer func() {
		if err := ms.Stop(5 * time.Second); err != nil {
			logger.Error("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	osCfg := objectstore.LoadConfig()
	if cfg.ObjectStorePrefix != "" {
		osCfg.Prefix = cfg.ObjectStorePrefix
	}

	adapter, err := objectstore.NewS3Adapter(ctx, osCfg)
	if err != nil {
		return orchestrator.ExitConfigurationError, fmt.Errorf("building object store adapter: %w", err)
	}

	reg := registry.NewPostgresRegistry(db)
	defer reg.Close()

	loader := rawloader.New(db, reg)
	transformer := staging.New(db, reg)

	o := orchestrator.New(adapter, reg, loader, transformer, cfg.Orchestrator)

	discoverOpts := discovery.Options{
		Prefix:         osCfg.Prefix,
		PathGlob:       cfg.PathGlob,
		FilenameParser: filename.NewParser(filename.DefaultConfig()),
	}

	planOpts := batch.Options{Mode: cfg.BatchMode}

	summary, runErr := o.Run(ctx, triggeredBy, discoverOpts, planOpts)

	logSummary(summary)

	return summary.ExitCode, runErr
}

func logSummary(summary orchestrator.RunSummary) {
	fmt.Printf("load_run_id=%s exit_code=%d duration=%s\n", summary.LoadRunID, summary.ExitCode, summary.Duration)

	for extractType, es := range summary.Extracts {
		fmt.Printf(
			"  extract=%s rows_read=%d rows_ingested=%d rows_rejected=%d files_processed=%d files_failed=%d files_skipped=%d top_rejections=%v\n",
			extractType, es.RowsRead, es.RowsIngested, es.RowsRejected,
			es.FilesProcessed, es.FilesFailed, es.FilesSkipped, es.TopRejectionReasons,
		)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s - Healthcare Extract Ingestion Engine

USAGE:
    %s [OPTIONS]

OPTIONS:
    --help          Show this help message
    --version       Show version information
    --dry-run       Discover and plan without writing to raw or stg
    --latest        Process every discovered batch newest-first
    --backfill      Process every discovered batch oldest-first
    --triggered-by  Value recorded as the load run's triggered_by (default "cli")

ENVIRONMENT VARIABLES:
    DATABASE_URL                       PostgreSQL connection string (REQUIRED)
    OBJECT_STORE_BUCKET                Source bucket for extract files (REQUIRED)
    OBJECT_STORE_REGION                AWS region (default us-east-1)
    OBJECT_STORE_PREFIX                Key prefix to scan
    OBJECT_STORE_REQUESTS_PER_SECOND   Token-bucket rate limit for S3 API calls (default 50)
    OBJECT_STORE_RETRY_ATTEMPTS        Max attempts for transient S3 errors (default 3)
    DISCOVERY_PATH_GLOB                doublestar glob applied after the prefix (default "**/*.csv")
    PROCESSING_MODE                    backfill | latest (default backfill)
    PROCESSING_MAX_CONCURRENT_FILES    raw-load worker pool size (default 5)
    STAGING_MAX_CONCURRENT_TRANSFORMS  staging worker pool size (default 3)
    PROCESSING_TIMEOUT                 per-run deadline (default 6h)
    RAW_LOADER_CONTINUE_ON_ERROR       continue past per-file errors (default true)
    RAW_LOADER_ERROR_THRESHOLD         file-failure fraction that fails the run (default 0.10)
    DRY_RUN                            equivalent to --dry-run
    METRICS_ADDR                       address for the /metrics and /healthz endpoints (default :9090)
    HANDLER_OVERRIDES_PATH             YAML file of per-extract-type validation/required overrides
    STAGING_ENABLE_TYPE_COERCION       coerce raw strings to typed staging values (default true)
    STAGING_REJECT_INVALID_ROWS        reject rows that fail post-coercion validation (default true)
    STAGING_DATE_FORMAT                time.Parse layout for date columns (default YYYYMMDD)
    STAGING_TIMESTAMP_FORMAT           time.Parse layout for timestamp columns (default YYYYMMDDHHMM)
    STAGING_DECIMAL_PRECISION          decimal places to round coerced decimal columns to (default off)
    STAGING_MAX_ERRORS_PER_BATCH       rejections tolerated within one unflushed batch before fail-fast
    STAGING_MAX_TOTAL_ERRORS           rejections tolerated across a whole staging run before fail-fast
    STAGING_MAX_RETRIES                max attempts for a transient staging batch upsert failure

EXAMPLES:
    %s                          # run with defaults from the environment
    %s --dry-run                # preview discovery and planning only
    %s --latest                 # process batches newest-first
`, name, version, name, name, name, name)
}
