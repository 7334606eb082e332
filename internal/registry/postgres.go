package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/filename"
)

var _ Registry = (*PostgresRegistry)(nil)

// PostgresRegistry implements Registry against the etl schema, following
// the transactional upsert and row-locking discipline the rest of this
// codebase uses for concurrency-safe state transitions.
type PostgresRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRegistry wraps an existing *sql.DB. The caller owns the
// connection's lifecycle up to Close.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{
		db: db,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (r *PostgresRegistry) Close() error {
	return nil
}

// CreateLoadRun inserts a new etl.load_runs row in status running.
func (r *PostgresRegistry) CreateLoadRun(ctx context.Context, triggeredBy string) (LoadRun, error) {
	run := LoadRun{
		LoadRunID:   uuid.NewString(),
		TriggeredBy: triggeredBy,
		Status:      LoadRunRunning,
		StartedAt:   time.Now().UTC(),
	}

	const query = `
		INSERT INTO etl.load_runs (load_run_id, triggered_by, status, started_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, run.LoadRunID, run.TriggeredBy, run.Status, run.StartedAt); err != nil {
		return LoadRun{}, fmt.Errorf("registry: create load run: %w", err)
	}

	r.logger.Info("load run created", slog.String("load_run_id", run.LoadRunID))

	return run, nil
}

// CompleteLoadRun transitions a load run to a terminal status, refusing to
// move a run that is already terminal.
func (r *PostgresRegistry) CompleteLoadRun(
	ctx context.Context, loadRunID string, status LoadRunStatus, rowsIngested, rowsRejected int64, notes string,
) error {
	const query = `
		UPDATE etl.load_runs
		SET status = $2, completed_at = NOW(), rows_ingested = $3, rows_rejected = $4, notes = $5
		WHERE load_run_id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, loadRunID, status, rowsIngested, rowsRejected, notes)
	if err != nil {
		return fmt.Errorf("registry: complete load run: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: load run %s", ErrInvalidStateTransition, loadRunID)
	}

	return nil
}

// FindLoadRunFile looks up a LoadRunFile by the unique (object-version-id,
// content-hash) index the idempotency gate is built on.
func (r *PostgresRegistry) FindLoadRunFile(ctx context.Context, objectVersionID, contentHash string) (LoadRunFile, error) {
	const query = `
		SELECT load_run_file_id, load_run_id, object_key, object_version_id, content_hash,
		       extract_type, date_extracted, per_org_id, practice_id, status,
		       rows_read, rows_ingested, rows_rejected, COALESCE(error_detail, ''), claimed_at
		FROM etl.load_run_files
		WHERE object_version_id = $1 AND content_hash = $2
	`

	var f LoadRunFile

	var claimedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, objectVersionID, contentHash).Scan(
		&f.LoadRunFileID, &f.LoadRunID, &f.ObjectKey, &f.ObjectVersionID, &f.ContentHash,
		&f.ExtractType, &f.DateExtracted, &f.PerOrgID, &f.PracticeID, &f.Status,
		&f.RowsRead, &f.RowsIngested, &f.RowsRejected, &f.ErrorDetail, &claimedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LoadRunFile{}, ErrNotFound
	}

	if err != nil {
		return LoadRunFile{}, fmt.Errorf("registry: find load run file: %w", err)
	}

	if claimedAt.Valid {
		f.ClaimedAt = &claimedAt.Time
	}

	return f, nil
}

// ClaimLoadRunFile inserts a new LoadRunFile row, or re-claims an existing
// failed or stale in-progress row, under a row lock so concurrent workers
// racing on the same (version-id, hash) pair never both proceed.
func (r *PostgresRegistry) ClaimLoadRunFile(ctx context.Context, file LoadRunFile, staleAfter time.Duration) (LoadRunFile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadRunFile{}, fmt.Errorf("registry: claim: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT load_run_file_id, status, claimed_at
		FROM etl.load_run_files
		WHERE object_version_id = $1 AND content_hash = $2
		FOR UPDATE
	`

	var (
		existingID     string
		existingStatus LoadRunFileStatus
		claimedAt      sql.NullTime
	)

	err = tx.QueryRowContext(ctx, selectQuery, file.ObjectVersionID, file.ContentHash).Scan(&existingID, &existingStatus, &claimedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if file.LoadRunFileID == "" {
			file.LoadRunFileID = uuid.NewString()
		}

		file.Status = FileStatusInProgress
		now := time.Now().UTC()
		file.ClaimedAt = &now

		const insertQuery = `
			INSERT INTO etl.load_run_files (
				load_run_file_id, load_run_id, object_key, object_version_id, content_hash,
				extract_type, date_extracted, per_org_id, practice_id, status, claimed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`

		if _, err := tx.ExecContext(ctx, insertQuery,
			file.LoadRunFileID, file.LoadRunID, file.ObjectKey, file.ObjectVersionID, file.ContentHash,
			file.ExtractType, file.DateExtracted, file.PerOrgID, file.PracticeID, file.Status, file.ClaimedAt,
		); err != nil {
			return LoadRunFile{}, fmt.Errorf("registry: claim: insert: %w", err)
		}

	case err != nil:
		return LoadRunFile{}, fmt.Errorf("registry: claim: select: %w", err)

	case existingStatus == FileStatusProcessed || existingStatus == FileStatusSkippedDuplicate:
		return LoadRunFile{}, fmt.Errorf("%w: %s already %s", ErrAlreadyClaimed, existingID, existingStatus)

	case existingStatus == FileStatusInProgress && claimedAt.Valid && time.Since(claimedAt.Time) < staleAfter:
		return LoadRunFile{}, fmt.Errorf("%w: %s claimed at %s", ErrAlreadyClaimed, existingID, claimedAt.Time)

	default:
		now := time.Now().UTC()
		file.LoadRunFileID = existingID
		file.Status = FileStatusInProgress
		file.ClaimedAt = &now

		const reclaimQuery = `
			UPDATE etl.load_run_files
			SET status = $2, claimed_at = $3, load_run_id = $4
			WHERE load_run_file_id = $1
		`

		if _, err := tx.ExecContext(ctx, reclaimQuery, existingID, file.Status, file.ClaimedAt, file.LoadRunID); err != nil {
			return LoadRunFile{}, fmt.Errorf("registry: claim: reclaim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return LoadRunFile{}, fmt.Errorf("registry: claim: commit: %w", err)
	}

	return file, nil
}

// RecordSkippedDuplicateLoadRunFile inserts a new LoadRunFile row in status
// skipped-duplicate for file.LoadRunID, independent of whatever row already
// holds the (object-version-id, content-hash) pair in status processed.
func (r *PostgresRegistry) RecordSkippedDuplicateLoadRunFile(ctx context.Context, file LoadRunFile) (LoadRunFile, error) {
	file.LoadRunFileID = uuid.NewString()
	file.Status = FileStatusSkippedDuplicate

	const query = `
		INSERT INTO etl.load_run_files (
			load_run_file_id, load_run_id, object_key, object_version_id, content_hash,
			extract_type, date_extracted, per_org_id, practice_id, status,
			rows_read, rows_ingested, rows_rejected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, 0)
	`

	if _, err := r.db.ExecContext(ctx, query,
		file.LoadRunFileID, file.LoadRunID, file.ObjectKey, file.ObjectVersionID, file.ContentHash,
		file.ExtractType, file.DateExtracted, file.PerOrgID, file.PracticeID, file.Status,
	); err != nil {
		return LoadRunFile{}, fmt.Errorf("registry: record skipped duplicate: %w", err)
	}

	return file, nil
}

// UpdateLoadRunFile transitions a LoadRunFile's status and counters,
// refusing the transition if the file is already in a terminal status
// different from the requested one.
func (r *PostgresRegistry) UpdateLoadRunFile(
	ctx context.Context, loadRunFileID string, status LoadRunFileStatus, rowsRead, rowsIngested, rowsRejected int64, errorDetail string,
) error {
	const selectQuery = `SELECT status FROM etl.load_run_files WHERE load_run_file_id = $1 FOR UPDATE`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: update file: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current LoadRunFileStatus
	if err := tx.QueryRowContext(ctx, selectQuery, loadRunFileID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}

		return fmt.Errorf("registry: update file: select: %w", err)
	}

	if current.Terminal() && current != status {
		return fmt.Errorf("%w: file %s is %s", ErrInvalidStateTransition, loadRunFileID, current)
	}

	const updateQuery = `
		UPDATE etl.load_run_files
		SET status = $2, rows_read = $3, rows_ingested = $4, rows_rejected = $5, error_detail = $6
		WHERE load_run_file_id = $1
	`

	if _, err := tx.ExecContext(ctx, updateQuery, loadRunFileID, status, rowsRead, rowsIngested, rowsRejected, errorDetail); err != nil {
		return fmt.Errorf("registry: update file: update: %w", err)
	}

	return tx.Commit()
}

// CreateStagingRun inserts a new etl.staging_runs row in status running.
func (r *PostgresRegistry) CreateStagingRun(ctx context.Context, loadRunID string, extractType filename.ExtractType) (StagingRun, error) {
	run := StagingRun{
		StagingRunID: uuid.NewString(),
		LoadRunID:    loadRunID,
		ExtractType:  extractType,
		Status:       StagingRunRunning,
		StartedAt:    time.Now().UTC(),
	}

	const query = `
		INSERT INTO etl.staging_runs (staging_run_id, load_run_id, extract_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.ExecContext(ctx, query, run.StagingRunID, run.LoadRunID, run.ExtractType, run.Status, run.StartedAt); err != nil {
		return StagingRun{}, fmt.Errorf("registry: create staging run: %w", err)
	}

	return run, nil
}

// CheckpointStagingRun advances the staging run's running counters without
// changing its status, giving the staging transformer a crash-safe resume
// point at batch granularity.
func (r *PostgresRegistry) CheckpointStagingRun(ctx context.Context, stagingRunID string, rowsRead, rowsTransformed, rowsRejected, rowsUpserted int64) error {
	const query = `
		UPDATE etl.staging_runs
		SET rows_read = $2, rows_transformed = $3, rows_rejected = $4, rows_upserted = $5
		WHERE staging_run_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, stagingRunID, rowsRead, rowsTransformed, rowsRejected, rowsUpserted)
	if err != nil {
		return fmt.Errorf("registry: checkpoint staging run: %w", err)
	}

	return nil
}

// CompleteStagingRun transitions a staging run to a terminal status.
func (r *PostgresRegistry) CompleteStagingRun(ctx context.Context, stagingRunID string, status StagingRunStatus) error {
	const query = `
		UPDATE etl.staging_runs
		SET status = $2, completed_at = NOW()
		WHERE staging_run_id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, stagingRunID, status)
	if err != nil {
		return fmt.Errorf("registry: complete staging run: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: staging run %s", ErrInvalidStateTransition, stagingRunID)
	}

	return nil
}

// RecordRejections bulk-inserts rejections into etl.rejects_<extract> via
// pq.CopyIn, matching the Raw Loader's own bulk-insert mechanism rather than
// issuing one INSERT per rejected row.
func (r *PostgresRegistry) RecordRejections(ctx context.Context, extractType filename.ExtractType, rejections []Rejection) error {
	if len(rejections) == 0 {
		return nil
	}

	table := rejectsTableFor(extractType)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: record rejections: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("etl", table,
		"staging_run_id", "load_run_file_id", "source_row_number", "raw_row", "field_errors", "reason_category"))
	if err != nil {
		return fmt.Errorf("registry: record rejections: prepare copy: %w", err)
	}

	for _, rej := range rejections {
		rawRow, err := json.Marshal(rej.RawRow)
		if err != nil {
			return fmt.Errorf("registry: record rejections: marshal raw row: %w", err)
		}

		fieldErrors, err := json.Marshal(rej.FieldErrors)
		if err != nil {
			return fmt.Errorf("registry: record rejections: marshal field errors: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, rej.StagingRunID, rej.LoadRunFileID, rej.SourceRowNumber, rawRow, fieldErrors, rej.ReasonCategory); err != nil {
			return fmt.Errorf("registry: record rejections: exec copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("registry: record rejections: flush copy: %w", err)
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("registry: record rejections: close copy: %w", err)
	}

	return tx.Commit()
}

// rejectsTableFor maps an extract type to its unqualified rejects table name
// within the etl schema.
func rejectsTableFor(et filename.ExtractType) string {
	switch et {
	case filename.ExtractPatients:
		return "rejects_patients"
	case filename.ExtractProviders:
		return "rejects_providers"
	case filename.ExtractAppointments:
		return "rejects_appointments"
	case filename.ExtractImmunisations:
		return "rejects_immunisations"
	default:
		return "rejects_" + string(et)
	}
}
