// Package rawloader streams a discovered object through the CSV framer and
// bulk-inserts rows into its landing table, enforcing the idempotency gate
// against the Run Registry before a single byte is read.
package rawloader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/csvframe"
	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/handler"
	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
	"github.com/healthlake-io/ingestlake/internal/registry"
)

const (
	defaultBufferSize  = 1000
	defaultStaleAfter  = 30 * time.Minute
	defaultErrorBudget = 0.10
)

// LoadResult is the outcome of loading one object.
type LoadResult struct {
	LoadRunFileID     string
	RowsRead          int64
	RowsIngested      int64
	RowsRejected      int64
	SuccessfulBatches int
	FailedBatches     int
	Duration          time.Duration
	Errors            []error
	Warnings          []string
	Skipped           bool
}

// Options controls buffering and structural-error tolerance.
type Options struct {
	BufferSize      int
	ContinueOnError bool
	StaleAfter      time.Duration
}

// Loader streams an object into its raw.<extract> landing table.
type Loader struct {
	db       *sql.DB
	registry registry.Registry
	logger   *slog.Logger
}

// New builds a Loader over db for bulk inserts and reg for idempotency and
// lifecycle tracking.
func New(db *sql.DB, reg registry.Registry) *Loader {
	return &Loader{
		db:       db,
		registry: reg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Load implements the Raw Loader algorithm: idempotency gate, stream and
// frame, batch insert, finalize.
func (l *Loader) Load(ctx context.Context, adapter objectstore.Adapter, loadRunID string, file discovery.DiscoveredFile, opts Options) (LoadResult, error) {
	start := time.Now()

	if opts.BufferSize == 0 {
		opts.BufferSize = defaultBufferSize
	}

	if opts.StaleAfter == 0 {
		opts.StaleAfter = defaultStaleAfter
	}

	h, err := handler.For(file.Parsed.ExtractType)
	if err != nil {
		return LoadResult{}, ingesterr.New(ingesterr.KindConfiguration, "rawloader.Load", err)
	}

	existing, err := l.registry.FindLoadRunFile(ctx, file.Meta.VersionID, file.IdentityHash)
	if err == nil && existing.Status == registry.FileStatusProcessed {
		skipped, skipErr := l.registry.RecordSkippedDuplicateLoadRunFile(ctx, registry.LoadRunFile{
			LoadRunID:       loadRunID,
			ObjectKey:       file.Meta.Key,
			ObjectVersionID: file.Meta.VersionID,
			ContentHash:     file.IdentityHash,
			ExtractType:     file.Parsed.ExtractType,
			DateExtracted:   file.Parsed.DateExtracted,
			PerOrgID:        file.Parsed.PerOrgID,
			PracticeID:      file.Parsed.PracticeID,
		})
		if skipErr != nil {
			l.logger.Error("rawloader: failed to record skipped-duplicate file", slog.String("error", skipErr.Error()))

			return LoadResult{}, ingesterr.New(ingesterr.KindIdempotency, "rawloader.Load", skipErr)
		}

		l.logger.Info("rawloader: skipping already-processed file", slog.String("object_key", file.Meta.Key))

		return LoadResult{LoadRunFileID: skipped.LoadRunFileID, Skipped: true, Duration: time.Since(start)}, nil
	}

	claimed, err := l.registry.ClaimLoadRunFile(ctx, registry.LoadRunFile{
		LoadRunID:       loadRunID,
		ObjectKey:       file.Meta.Key,
		ObjectVersionID: file.Meta.VersionID,
		ContentHash:     file.IdentityHash,
		ExtractType:     file.Parsed.ExtractType,
		DateExtracted:   file.Parsed.DateExtracted,
		PerOrgID:        file.Parsed.PerOrgID,
		PracticeID:      file.Parsed.PracticeID,
	}, opts.StaleAfter)
	if err != nil {
		return LoadResult{}, ingesterr.New(ingesterr.KindIdempotency, "rawloader.Load", err).
			WithContext(loadRunID, file.Meta.Key, 0, "")
	}

	stream, err := adapter.OpenStream(ctx, file.Meta.Key)
	if err != nil {
		_ = l.registry.UpdateLoadRunFile(ctx, claimed.LoadRunFileID, registry.FileStatusFailed, 0, 0, 0, err.Error())

		return LoadResult{}, err
	}
	defer stream.Close()

	result, loadErr := l.stream(ctx, stream, h, claimed, loadRunID, opts)
	result.Duration = time.Since(start)

	finalStatus := registry.FileStatusProcessed
	if loadErr != nil {
		finalStatus = registry.FileStatusFailed
	}

	errDetail := ""
	if loadErr != nil {
		errDetail = loadErr.Error()
	}

	if err := l.registry.UpdateLoadRunFile(ctx, claimed.LoadRunFileID, finalStatus, result.RowsRead, result.RowsIngested, result.RowsRejected, errDetail); err != nil {
		l.logger.Error("rawloader: failed to finalize load run file", slog.String("error", err.Error()))
	}

	result.LoadRunFileID = claimed.LoadRunFileID

	return result, loadErr
}

// stream frames rows from r, buffers them, and flushes each buffer as a
// bulk insert, honoring opts.ContinueOnError for both structural mismatches
// and buffer-insert failures.
func (l *Loader) stream(
	ctx context.Context, r io.Reader, h handler.Handler, file registry.LoadRunFile, loadRunID string, opts Options,
) (LoadResult, error) {
	framer := csvframe.New(r)

	var (
		result  LoadResult
		buffer  [][]string
		rowNum  int
	)

	columnCount := len(h.LandingColumns)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}

		if err := l.bulkInsert(ctx, h, buffer, file, loadRunID); err != nil {
			result.FailedBatches++

			if !opts.ContinueOnError {
				return err
			}

			result.Errors = append(result.Errors, err)
		} else {
			result.SuccessfulBatches++
			result.RowsIngested += int64(len(buffer))
		}

		buffer = buffer[:0]

		return nil
	}

	for {
		fields, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return result, ingesterr.New(ingesterr.KindParseStructural, "rawloader.stream", err)
		}

		rowNum++
		result.RowsRead++

		if len(fields) != columnCount {
			structuralErr := fmt.Errorf("row %d: expected %d fields, got %d", rowNum, columnCount, len(fields))

			if !opts.ContinueOnError {
				return result, ingesterr.New(ingesterr.KindParseStructural, "rawloader.stream", structuralErr).
					WithContext(loadRunID, file.ObjectKey, rowNum, "")
			}

			result.Warnings = append(result.Warnings, structuralErr.Error())
			result.RowsRejected++

			continue
		}

		row := make([]string, len(fields))
		for i, field := range fields {
			row[i] = string(field)
		}

		buffer = append(buffer, row)

		if len(buffer) >= opts.BufferSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	return result, nil
}

// bulkInsert loads one buffer of rows into raw.<extract> via pq.CopyIn,
// appending lineage columns the handler does not declare.
func (l *Loader) bulkInsert(ctx context.Context, h handler.Handler, rows [][]string, file registry.LoadRunFile, loadRunID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "rawloader.bulkInsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	columns := append(append([]string{}, h.LandingColumns...),
		"object_key", "object_version_id", "content_hash", "date_extracted",
		"extract_type", "load_run_id", "load_run_file_id", "row_number")

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("raw", h.LandingTable, columns...))
	if err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "rawloader.bulkInsert", err)
	}

	for i, row := range rows {
		args := make([]interface{}, 0, len(columns))
		for _, v := range row {
			args = append(args, v)
		}

		args = append(args,
			file.ObjectKey, file.ObjectVersionID, file.ContentHash, file.DateExtracted,
			string(h.ExtractType), loadRunID, file.LoadRunFileID, i+1,
		)

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return ingesterr.New(ingesterr.KindDBConstraint, "rawloader.bulkInsert", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "rawloader.bulkInsert", err)
	}

	if err := stmt.Close(); err != nil {
		return ingesterr.New(ingesterr.KindDBTransient, "rawloader.bulkInsert", err)
	}

	return tx.Commit()
}
