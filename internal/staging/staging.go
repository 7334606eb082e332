// Package staging transforms landing rows into typed staging rows, applying
// the declarative per-extract handler's transformations and rejecting any
// row that fails a required/type-coercion/validation check rather than
// silently dropping or truncating it.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/handler"
	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/registry"
	"github.com/healthlake-io/ingestlake/internal/retry"
)

const defaultBatchSize = 1000

// ErrTotalErrorsExceeded is returned when accumulated rejections cross
// Options.MaxTotalErrors, triggering the run-level fail-fast.
var ErrTotalErrorsExceeded = errors.New("staging: accumulated rejections exceeded max_total_errors")

// StagingResult is the outcome of one Transform call.
type StagingResult struct {
	StagingRunID        string
	RowsRead            int64
	RowsTransformed     int64
	RowsRejected        int64
	RowsUpserted        int64
	RejectionsByCategory map[string]int
	Duration            time.Duration
}

// Options controls batching, trimming, nullification, coercion, and
// fail-fast thresholds. DisableTypeCoercion and AllowInvalidRows are
// negated-sense so the zero Options{} preserves coercion-on,
// reject-invalid-rows-on behavior.
type Options struct {
	BatchSize           int
	TrimStrings         bool
	NullifyEmptyStrings bool
	DisableTypeCoercion bool
	AllowInvalidRows    bool
	DateFormat          string
	TimestampFormat     string
	DecimalPrecision    int
	MaxErrorsPerBatch   int
	MaxTotalErrors      int
	MaxRetries          int
}

// ErrBatchErrorsExceeded is returned when a single batch's rejections cross
// Options.MaxErrorsPerBatch, triggering the run-level fail-fast.
var ErrBatchErrorsExceeded = errors.New("staging: batch rejections exceeded max_errors_per_batch")

// Transformer reads raw.<extract> rows for a load run and upserts typed
// rows into stg.<extract>, writing rejections for any row that fails its
// handler's transformations.
type Transformer struct {
	db       *sql.DB
	registry registry.Registry
	logger   *slog.Logger
}

// New builds a Transformer over db and reg.
func New(db *sql.DB, reg registry.Registry) *Transformer {
	return &Transformer{
		db:       db,
		registry: reg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// sourceRow is one raw.<extract> row read by the cursor.
type sourceRow struct {
	loadRunFileID string
	rowNumber     int
	values        map[string]string
}

// Transform runs the read -> coerce -> validate -> upsert-or-reject
// pipeline over every non-superseded raw row for loadRunID and h's extract
// type.
func (t *Transformer) Transform(ctx context.Context, h handler.Handler, loadRunID string, opts Options) (StagingResult, error) {
	start := time.Now()

	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}

	run, err := t.registry.CreateStagingRun(ctx, loadRunID, h.ExtractType)
	if err != nil {
		return StagingResult{}, ingesterr.New(ingesterr.KindDBTransient, "staging.Transform", err)
	}

	result := StagingResult{StagingRunID: run.StagingRunID, RejectionsByCategory: map[string]int{}}

	cursor, err := t.openCursor(ctx, h, loadRunID)
	if err != nil {
		_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

		return result, err
	}
	defer cursor.Close()

	var (
		batch            []stagedRow
		rejections       []registry.Rejection
		batchRejections  int
	)

	flush := func() error {
		if len(batch) > 0 {
			if err := t.upsertBatch(ctx, h, batch, opts.MaxRetries); err != nil {
				return err
			}

			result.RowsUpserted += int64(len(batch))
			batch = batch[:0]
		}

		if len(rejections) > 0 {
			if err := t.registry.RecordRejections(ctx, h.ExtractType, rejections); err != nil {
				return err
			}

			rejections = rejections[:0]
		}

		batchRejections = 0

		return t.registry.CheckpointStagingRun(ctx, run.StagingRunID, result.RowsRead, result.RowsTransformed, result.RowsRejected, result.RowsUpserted)
	}

	for cursor.Next() {
		row, err := cursor.scan()
		if err != nil {
			_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

			return result, ingesterr.New(ingesterr.KindDBTransient, "staging.Transform", err)
		}

		result.RowsRead++

		staged, rejection := t.transformRow(h, row, loadRunID, opts)
		if rejection != nil {
			result.RowsRejected++
			batchRejections++
			result.RejectionsByCategory[rejection.category]++
			rejections = append(rejections, registry.Rejection{
				StagingRunID:    run.StagingRunID,
				LoadRunFileID:   row.loadRunFileID,
				SourceRowNumber: row.rowNumber,
				RawRow:          row.values,
				FieldErrors:     rejection.fieldErrors,
				ReasonCategory:  rejection.category,
			})

			if opts.MaxTotalErrors > 0 && int(result.RowsRejected) > opts.MaxTotalErrors {
				_ = flush()
				_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

				return result, fmt.Errorf("%w: %d rejections", ErrTotalErrorsExceeded, result.RowsRejected)
			}

			if opts.MaxErrorsPerBatch > 0 && batchRejections > opts.MaxErrorsPerBatch {
				_ = flush()
				_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

				return result, fmt.Errorf("%w: %d rejections", ErrBatchErrorsExceeded, batchRejections)
			}

			continue
		}

		result.RowsTransformed++
		batch = append(batch, staged)

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

				return result, err
			}
		}
	}

	if err := cursor.Err(); err != nil {
		_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

		return result, ingesterr.New(ingesterr.KindDBTransient, "staging.Transform", err)
	}

	if err := flush(); err != nil {
		_ = t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunFailed)

		return result, err
	}

	if err := t.registry.CompleteStagingRun(ctx, run.StagingRunID, registry.StagingRunCompleted); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)

	return result, nil
}

// rejectionDetail carries the per-row reason when transformRow rejects.
type rejectionDetail struct {
	category    string
	fieldErrors map[string]string
}

// stagedRow is one row ready for upsert, keyed by its coerced values.
type stagedRow struct {
	loadRunID     string
	loadRunFileID string
	values        map[string]interface{}
}

// transformRow applies h's transformations in declared order: trim ->
// null-check -> coerce -> validate. The first failure rejects the whole
// row; a row with no rejections is returned ready for upsert.
func (t *Transformer) transformRow(h handler.Handler, row sourceRow, loadRunID string, opts Options) (stagedRow, *rejectionDetail) {
	values := make(map[string]interface{}, len(h.Transformations))

	cfg := coerceConfig{
		disabled:         opts.DisableTypeCoercion,
		dateFormat:       opts.DateFormat,
		timestampFormat:  opts.TimestampFormat,
		decimalPrecision: opts.DecimalPrecision,
	}

	for _, tr := range h.Transformations {
		raw := normalize(row.values[tr.SourceColumn], opts.TrimStrings, opts.NullifyEmptyStrings)

		if raw == "" && tr.Required {
			return stagedRow{}, &rejectionDetail{
				category:    "missing_required",
				fieldErrors: map[string]string{tr.TargetColumn: "required field is empty"},
			}
		}

		coerced, err := coerce(raw, tr.TargetType, cfg)
		if err != nil {
			return stagedRow{}, &rejectionDetail{
				category:    "type_coercion",
				fieldErrors: map[string]string{tr.TargetColumn: err.Error()},
			}
		}

		if raw != "" {
			if reason := validate(raw, tr.Rules); reason != "" && !opts.AllowInvalidRows {
				return stagedRow{}, &rejectionDetail{
					category:    "validation",
					fieldErrors: map[string]string{tr.TargetColumn: reason},
				}
			}
		}

		values[tr.TargetColumn] = coerced
	}

	return stagedRow{loadRunID: loadRunID, loadRunFileID: row.loadRunFileID, values: values}, nil
}

// rowCursor wraps a *sql.Rows result set over raw.<extract>, decoding one
// row at a time so Transform never holds more than opts.BatchSize rows of
// the landing table in memory regardless of the run's total row count.
type rowCursor struct {
	rows    *sql.Rows
	columns []string
}

// openCursor opens a cursor over raw.<extract> filtered by load_run_id and
// non-superseded rows, ordered by row_number. Callers must Close it.
func (t *Transformer) openCursor(ctx context.Context, h handler.Handler, loadRunID string) (*rowCursor, error) {
	columns := append([]string{"load_run_file_id", "row_number"}, h.LandingColumns...)

	query := fmt.Sprintf(
		"SELECT %s FROM raw.%s WHERE load_run_id = $1 AND superseded = FALSE ORDER BY row_number",
		joinColumns(columns), h.LandingTable,
	)

	rows, err := t.db.QueryContext(ctx, query, loadRunID)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindDBTransient, "staging.openCursor", err)
	}

	return &rowCursor{rows: rows, columns: columns}, nil
}

func (c *rowCursor) Next() bool { return c.rows.Next() }
func (c *rowCursor) Err() error { return c.rows.Err() }
func (c *rowCursor) Close() error { return c.rows.Close() }

// scan decodes the current row. Next must have returned true beforehand.
func (c *rowCursor) scan() (sourceRow, error) {
	landingColumns := c.columns[2:]
	scanTargets := make([]interface{}, len(c.columns))

	var (
		loadRunFileID string
		rowNumber     int
	)

	scanTargets[0] = &loadRunFileID
	scanTargets[1] = &rowNumber

	rawValues := make([]sql.NullString, len(landingColumns))
	for i := range rawValues {
		scanTargets[i+2] = &rawValues[i]
	}

	if err := c.rows.Scan(scanTargets...); err != nil {
		return sourceRow{}, err
	}

	values := make(map[string]string, len(landingColumns))
	for i, col := range landingColumns {
		values[col] = rawValues[i].String
	}

	return sourceRow{loadRunFileID: loadRunFileID, rowNumber: rowNumber, values: values}, nil
}

// upsertBatch commits a batch of staged rows atomically: the whole batch
// either fully upserts or rolls back, retried with exponential backoff on a
// transient failure for at most maxRetries attempts in total.
func (t *Transformer) upsertBatch(ctx context.Context, h handler.Handler, batch []stagedRow, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = maxRetries

	attempt := 0

	err := retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			t.logger.Warn("staging: retrying batch upsert", slog.Int("attempt", attempt))
		}

		return t.upsertBatchOnce(ctx, h, batch)
	})
	if err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatch", err)
	}

	return nil
}

func (t *Transformer) upsertBatchOnce(ctx context.Context, h handler.Handler, batch []stagedRow) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatchOnce", err)
	}
	defer func() { _ = tx.Rollback() }()

	targetColumns := make([]string, 0, len(h.Transformations)+2)
	for _, tr := range h.Transformations {
		targetColumns = append(targetColumns, tr.TargetColumn)
	}

	targetColumns = append(targetColumns, "load_run_id", "load_run_file_id")

	conflictCols := joinColumns(h.NaturalKey)
	updateSet := buildUpdateSet(targetColumns, h.NaturalKey)

	placeholders := buildPlaceholders(len(targetColumns))
	query := fmt.Sprintf(
		"INSERT INTO stg.%s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s, updated_at = NOW()",
		h.StagingTable, joinColumns(targetColumns), placeholders, conflictCols, updateSet,
	)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatchOnce", err)
	}

	for _, row := range batch {
		args := make([]interface{}, 0, len(targetColumns))
		for _, col := range targetColumns[:len(targetColumns)-2] {
			args = append(args, row.values[col])
		}

		args = append(args, row.loadRunID, row.loadRunFileID)

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()

			return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatchOnce", err)
		}
	}

	if err := stmt.Close(); err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatchOnce", err)
	}

	if err := tx.Commit(); err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "staging.upsertBatchOnce", err)
	}

	return nil
}

func joinColumns(cols []string) string {
	out := ""

	for i, c := range cols {
		if i > 0 {
			out += ", "
		}

		out += c
	}

	return out
}

func buildPlaceholders(n int) string {
	out := ""

	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}

		out += fmt.Sprintf("$%d", i+1)
	}

	return out
}

// buildUpdateSet returns "col = EXCLUDED.col, ..." for every column not in
// the natural key, so the conflict update leaves the key columns alone.
func buildUpdateSet(columns, naturalKey []string) string {
	isKey := make(map[string]bool, len(naturalKey))
	for _, k := range naturalKey {
		isKey[k] = true
	}

	out := ""
	first := true

	for _, c := range columns {
		if isKey[c] {
			continue
		}

		if !first {
			out += ", "
		}

		out += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		first = false
	}

	return out
}
