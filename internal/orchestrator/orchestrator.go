// Package orchestrator drives Discovery, the Batch Planner, the Raw
// Loader, and the Staging Transformer as one run, honoring the bounded
// worker pools and the extract-level barrier between raw loading and
// staging that the concurrency model requires.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/healthlake-io/ingestlake/internal/batch"
	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/handler"
	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
	"github.com/healthlake-io/ingestlake/internal/rawloader"
	"github.com/healthlake-io/ingestlake/internal/registry"
	"github.com/healthlake-io/ingestlake/internal/staging"
)

// ExitCode mirrors the engine's process exit-code contract.
type ExitCode int

const (
	ExitSuccess             ExitCode = 0
	ExitConfigurationError  ExitCode = 1
	ExitCompletedWithErrors ExitCode = 2
	ExitFailedBeyondThreshold ExitCode = 3
	ExitCancelled           ExitCode = 130
)

// ExtractSummary is the per-extract-type rollup of a completed run.
type ExtractSummary struct {
	ExtractType        filename.ExtractType
	RowsRead           int64
	RowsIngested       int64
	RowsRejected       int64
	FilesProcessed     int
	FilesFailed        int
	FilesSkipped       int
	TopRejectionReasons map[string]int
}

// RunSummary is the structured run-completion outcome (§7 "User-visible outcome").
type RunSummary struct {
	LoadRunID string
	ExitCode  ExitCode
	Duration  time.Duration
	Extracts  map[filename.ExtractType]*ExtractSummary
}

// Orchestrator wires Discovery, Planning, the Raw Loader, and the Staging
// Transformer into one bounded-concurrency run.
type Orchestrator struct {
	adapter    objectstore.Adapter
	registry   registry.Registry
	loader     *rawloader.Loader
	transformer *staging.Transformer
	cfg        Config
	logger     *slog.Logger
}

// New builds an Orchestrator over the given object store adapter and
// registry, with the raw loader and staging transformer sharing db's
// connection pool.
func New(adapter objectstore.Adapter, reg registry.Registry, loader *rawloader.Loader, transformer *staging.Transformer, cfg Config) *Orchestrator {
	return &Orchestrator{
		adapter:     adapter,
		registry:    reg,
		loader:      loader,
		transformer: transformer,
		cfg:         cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Run executes Discovery -> Planner -> Raw Loader -> Staging Transformer
// for one triggered run and returns its completion summary. A fatal
// configuration error aborts before any LoadRun is created, per §4.8.
func (o *Orchestrator) Run(ctx context.Context, triggeredBy string, discoverOpts discovery.Options, planOpts batch.Options) (RunSummary, error) {
	start := time.Now()

	if o.cfg.RawWorkers <= 0 {
		o.cfg.RawWorkers = defaultRawWorkers
	}

	if o.cfg.StagingWorkers <= 0 {
		o.cfg.StagingWorkers = defaultStagingWorkers
	}

	files, warnings, err := discovery.Discover(ctx, o.adapter, discoverOpts)
	if err != nil {
		return RunSummary{ExitCode: ExitConfigurationError}, ingesterr.New(ingesterr.KindConfiguration, "orchestrator.Run", err)
	}

	for _, w := range warnings {
		o.logger.Warn("orchestrator: discovery warning", slog.String("detail", w.String()))
	}

	plan, err := batch.Plan(files, planOpts)
	if err != nil {
		return RunSummary{ExitCode: ExitConfigurationError}, ingesterr.New(ingesterr.KindConfiguration, "orchestrator.Run", err)
	}

	for _, w := range plan.Warnings {
		o.logger.Warn("orchestrator: plan warning", slog.String("detail", w))
	}

	run, err := o.registry.CreateLoadRun(ctx, triggeredBy)
	if err != nil {
		return RunSummary{ExitCode: ExitConfigurationError}, ingesterr.New(ingesterr.KindConfiguration, "orchestrator.Run", err)
	}

	summary := RunSummary{LoadRunID: run.LoadRunID, Extracts: map[filename.ExtractType]*ExtractSummary{}}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunDeadline)
	defer cancel()

	runErr := o.runBatches(ctx, run.LoadRunID, plan, &summary)

	summary.Duration = time.Since(start)

	status, exitCode := o.finalStatus(ctx, runErr, &summary)
	summary.ExitCode = exitCode

	var totalIngested, totalRejected int64
	for _, es := range summary.Extracts {
		totalIngested += es.RowsIngested
		totalRejected += es.RowsRejected
	}

	if err := o.registry.CompleteLoadRun(ctx, run.LoadRunID, status, totalIngested, totalRejected, completionNote(runErr)); err != nil {
		o.logger.Error("orchestrator: failed to finalize load run", slog.String("error", err.Error()))
	}

	recordRunOutcome(string(status), summary.Duration, start.Add(summary.Duration))

	return summary, runErr
}

// runBatches processes plan.Batches in plan order. Within a batch, every
// file is raw-loaded under one shared bounded pool (default 5 workers);
// only once every file in the batch has reached a terminal LoadRunFile
// status does staging begin, under its own bounded pool (default 3
// workers) with one worker per extract type. This is a stricter form of
// the barrier in the concurrency model (§5(b) requires only that an
// extract's own raw loads be terminal before its staging starts) but
// satisfies it, since loadBatch always finishes every file first.
func (o *Orchestrator) runBatches(ctx context.Context, loadRunID string, plan batch.ProcessingPlan, summary *RunSummary) error {
	for _, b := range plan.Batches {
		if err := ctx.Err(); err != nil {
			return err
		}

		loadStart := time.Now()
		loadErr := o.loadBatch(ctx, loadRunID, b.Files, summary)
		recordBatchPhaseDuration("load", time.Since(loadStart))

		if loadErr != nil && !o.cfg.ContinueOnError {
			return loadErr
		}

		if o.cfg.DryRun {
			continue
		}

		byExtract := groupByExtract(b.Files)

		extractsInOrder := make([]filename.ExtractType, 0, len(byExtract))
		for et := range byExtract {
			extractsInOrder = append(extractsInOrder, et)
		}

		sort.Slice(extractsInOrder, func(i, j int) bool {
			return filename.Priority(extractsInOrder[i]) < filename.Priority(extractsInOrder[j])
		})

		stageStart := time.Now()
		stageErr := o.stageBatch(ctx, loadRunID, extractsInOrder, summary)
		recordBatchPhaseDuration("stage", time.Since(stageStart))

		if stageErr != nil && !o.cfg.ContinueOnError {
			return stageErr
		}
	}

	return nil
}

// loadBatch runs the bounded raw-load worker pool (default 5) over every
// file in a batch, regardless of extract type; every file reaches a
// terminal LoadRunFile status before this returns.
func (o *Orchestrator) loadBatch(ctx context.Context, loadRunID string, files []discovery.DiscoveredFile, summary *RunSummary) error {
	sem := semaphore.NewWeighted(int64(o.cfg.RawWorkers))
	pool := newPoolGauge("raw_load")

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex

	for _, file := range files {
		file := file
		es := extractSummaryFor(summary, file.Parsed.ExtractType)

		if o.cfg.DryRun {
			mu.Lock()
			es.FilesProcessed++
			mu.Unlock()

			continue
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			pool.inc()
			defer pool.dec()
			defer sem.Release(1)

			result, err := o.loader.Load(gctx, o.adapter, loadRunID, file, rawloader.Options{ContinueOnError: o.cfg.ContinueOnError})

			mu.Lock()
			defer mu.Unlock()

			extractType := string(file.Parsed.ExtractType)

			switch {
			case result.Skipped:
				es.FilesSkipped++
				filesProcessedTotal.WithLabelValues(extractType, "skipped").Inc()
			case err != nil:
				es.FilesFailed++
				filesProcessedTotal.WithLabelValues(extractType, "failed").Inc()
				o.logger.Error("orchestrator: raw load failed",
					slog.String("object_key", file.Meta.Key), slog.String("error", err.Error()))
			default:
				es.FilesProcessed++
				es.RowsRead += result.RowsRead
				es.RowsIngested += result.RowsIngested
				es.RowsRejected += result.RowsRejected
				filesProcessedTotal.WithLabelValues(extractType, "processed").Inc()
				rowsReadTotal.WithLabelValues(extractType).Add(float64(result.RowsRead))
				rowsIngestedTotal.WithLabelValues(extractType, "raw").Add(float64(result.RowsIngested))

				if result.RowsRejected > 0 {
					rowsRejectedTotal.WithLabelValues(extractType, "structural").Add(float64(result.RowsRejected))
				}
			}

			if err != nil && !o.cfg.ContinueOnError {
				return err
			}

			return nil
		})
	}

	return g.Wait()
}

// stageBatch runs the bounded staging worker pool (default 3) over every
// extract type present in a batch, one Staging Transformer run per
// extract, concurrently up to cfg.StagingWorkers.
func (o *Orchestrator) stageBatch(ctx context.Context, loadRunID string, extracts []filename.ExtractType, summary *RunSummary) error {
	sem := semaphore.NewWeighted(int64(o.cfg.StagingWorkers))
	pool := newPoolGauge("staging")

	g, gctx := errgroup.WithContext(ctx)

	for _, et := range extracts {
		et := et

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			pool.inc()
			defer pool.dec()
			defer sem.Release(1)

			err := o.stageExtract(gctx, loadRunID, et, summary)
			if err != nil && !o.cfg.ContinueOnError {
				return err
			}

			return nil
		})
	}

	return g.Wait()
}

// stageExtract runs the Staging Transformer for one extract type.
func (o *Orchestrator) stageExtract(ctx context.Context, loadRunID string, et filename.ExtractType, summary *RunSummary) error {
	h, err := handler.For(et)
	if err != nil {
		return ingesterr.New(ingesterr.KindConfiguration, "orchestrator.stageExtract", err)
	}

	result, err := o.transformer.Transform(ctx, h, loadRunID, o.cfg.Staging)

	es := extractSummaryFor(summary, et)
	es.RowsRejected += result.RowsRejected

	rowsIngestedTotal.WithLabelValues(string(et), "stg").Add(float64(result.RowsUpserted))
	rowsRejectedTotal.WithLabelValues(string(et), "total").Add(float64(result.RowsRejected))

	for category, count := range result.RejectionsByCategory {
		es.TopRejectionReasons[category] += count
		rowsRejectedTotal.WithLabelValues(string(et), category).Add(float64(count))
	}

	if err != nil {
		o.logger.Error("orchestrator: staging failed",
			slog.String("extract_type", string(et)), slog.String("error", err.Error()))

		return err
	}

	return nil
}

// finalStatus maps a run's outcome to a LoadRunStatus and process exit
// code per §6: success, completed-with-errors-under-threshold,
// failed-beyond-threshold, or cancelled.
func (o *Orchestrator) finalStatus(ctx context.Context, runErr error, summary *RunSummary) (registry.LoadRunStatus, ExitCode) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return registry.LoadRunCancelled, ExitCancelled
	}

	var filesFailed int

	for _, es := range summary.Extracts {
		filesFailed += es.FilesFailed
	}

	if runErr != nil && !o.cfg.ContinueOnError {
		return registry.LoadRunFailed, ExitFailedBeyondThreshold
	}

	if filesFailed == 0 {
		return registry.LoadRunCompleted, ExitSuccess
	}

	threshold := o.cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = defaultErrorThreshold()
	}

	totalFiles := 0
	for _, es := range summary.Extracts {
		totalFiles += es.FilesProcessed + es.FilesFailed + es.FilesSkipped
	}

	if totalFiles > 0 && float64(filesFailed)/float64(totalFiles) > threshold {
		return registry.LoadRunFailed, ExitFailedBeyondThreshold
	}

	return registry.LoadRunCompleted, ExitCompletedWithErrors
}

func defaultErrorThreshold() float64 {
	return 0.10
}

func completionNote(runErr error) string {
	if runErr == nil {
		return ""
	}

	return runErr.Error()
}

func extractSummaryFor(summary *RunSummary, et filename.ExtractType) *ExtractSummary {
	if es, ok := summary.Extracts[et]; ok {
		return es
	}

	es := &ExtractSummary{ExtractType: et, TopRejectionReasons: map[string]int{}}
	summary.Extracts[et] = es

	return es
}

func groupByExtract(files []discovery.DiscoveredFile) map[filename.ExtractType][]discovery.DiscoveredFile {
	out := map[filename.ExtractType][]discovery.DiscoveredFile{}

	for _, f := range files {
		out[f.Parsed.ExtractType] = append(out[f.Parsed.ExtractType], f)
	}

	return out
}
