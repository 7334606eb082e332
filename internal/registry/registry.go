// Package registry is the system of record for run state: LoadRun,
// LoadRunFile, StagingRun, and Rejection. It owns the idempotency guarantee
// the Raw Loader depends on and the terminal-state invariants every status
// transition must respect.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/healthlake-io/ingestlake/internal/filename"
)

// Sentinel errors returned by Registry implementations.
var (
	ErrNotFound              = errors.New("registry: not found")
	ErrInvalidStateTransition = errors.New("registry: invalid state transition from terminal state")
	ErrAlreadyClaimed        = errors.New("registry: load run file already claimed by another worker")
)

// LoadRunStatus is the lifecycle state of a LoadRun.
type LoadRunStatus string

const (
	LoadRunRunning   LoadRunStatus = "running"
	LoadRunCompleted LoadRunStatus = "completed"
	LoadRunFailed    LoadRunStatus = "failed"
	LoadRunCancelled LoadRunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change status.
func (s LoadRunStatus) Terminal() bool {
	switch s {
	case LoadRunCompleted, LoadRunFailed, LoadRunCancelled:
		return true
	default:
		return false
	}
}

// LoadRunFileStatus is the lifecycle state of one file within a load run.
type LoadRunFileStatus string

const (
	FileStatusPending          LoadRunFileStatus = "pending"
	FileStatusInProgress       LoadRunFileStatus = "in-progress"
	FileStatusProcessed        LoadRunFileStatus = "processed"
	FileStatusFailed           LoadRunFileStatus = "failed"
	FileStatusSkippedDuplicate LoadRunFileStatus = "skipped-duplicate"
	FileStatusCancelled        LoadRunFileStatus = "cancelled"
)

// Terminal reports whether the file can no longer change status.
func (s LoadRunFileStatus) Terminal() bool {
	switch s {
	case FileStatusProcessed, FileStatusFailed, FileStatusSkippedDuplicate, FileStatusCancelled:
		return true
	default:
		return false
	}
}

// StagingRunStatus is the lifecycle state of a staging run.
type StagingRunStatus string

const (
	StagingRunRunning   StagingRunStatus = "running"
	StagingRunCompleted StagingRunStatus = "completed"
	StagingRunFailed    StagingRunStatus = "failed"
)

// Terminal reports whether the staging run can no longer change status.
func (s StagingRunStatus) Terminal() bool {
	return s == StagingRunCompleted || s == StagingRunFailed
}

// LoadRun is one execution of the orchestrator across a set of batches.
type LoadRun struct {
	LoadRunID     string
	TriggeredBy   string
	Status        LoadRunStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	RowsIngested  int64
	RowsRejected  int64
	Notes         string
}

// LoadRunFile is one discovered file's processing record within a load run,
// and the row the idempotency gate is keyed against via (ObjectVersionID,
// ContentHash).
type LoadRunFile struct {
	LoadRunFileID   string
	LoadRunID       string
	ObjectKey       string
	ObjectVersionID string
	ContentHash     string
	ExtractType     filename.ExtractType
	DateExtracted   time.Time
	PerOrgID        string
	PracticeID      string
	Status          LoadRunFileStatus
	RowsRead        int64
	RowsIngested    int64
	RowsRejected    int64
	ErrorDetail     string
	ClaimedAt       *time.Time
}

// StagingRun is one execution of the staging transformer over a load run
// (or a subset of extract types).
type StagingRun struct {
	StagingRunID  string
	LoadRunID     string
	ExtractType   filename.ExtractType
	Status        StagingRunStatus
	RowsRead      int64
	RowsTransformed int64
	RowsRejected  int64
	RowsUpserted  int64
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Rejection is one staging row that failed transformation or validation.
type Rejection struct {
	StagingRunID    string
	LoadRunFileID   string
	SourceRowNumber int
	RawRow          map[string]string
	FieldErrors     map[string]string
	ReasonCategory  string
}

// Registry is the system of record the Raw Loader, Staging Transformer, and
// Orchestrator all read and write through. Implementations must make the
// idempotency claim (ClaimLoadRunFile) atomic under concurrent callers.
type Registry interface {
	// CreateLoadRun starts a new load run in status running.
	CreateLoadRun(ctx context.Context, triggeredBy string) (LoadRun, error)
	// CompleteLoadRun transitions a load run to a terminal status with final counts.
	CompleteLoadRun(ctx context.Context, loadRunID string, status LoadRunStatus, rowsIngested, rowsRejected int64, notes string) error

	// FindLoadRunFile looks up an existing LoadRunFile by its idempotency
	// identity (object version id, content hash). Returns ErrNotFound if absent.
	FindLoadRunFile(ctx context.Context, objectVersionID, contentHash string) (LoadRunFile, error)
	// ClaimLoadRunFile atomically inserts a new LoadRunFile in status
	// in-progress, or re-claims an existing failed/stale in-progress row for
	// retry. Returns ErrAlreadyClaimed if another worker holds the claim.
	ClaimLoadRunFile(ctx context.Context, file LoadRunFile, staleAfter time.Duration) (LoadRunFile, error)
	// RecordSkippedDuplicateLoadRunFile inserts a new LoadRunFile row for
	// loadRunID in status skipped-duplicate with zero counts, so a replayed
	// plan still gets its own audit-trail row for the current run even
	// though no bytes are read.
	RecordSkippedDuplicateLoadRunFile(ctx context.Context, file LoadRunFile) (LoadRunFile, error)
	// UpdateLoadRunFile transitions a LoadRunFile's status and counts.
	// Returns ErrInvalidStateTransition if the current status is terminal
	// and differs from the requested status.
	UpdateLoadRunFile(ctx context.Context, loadRunFileID string, status LoadRunFileStatus, rowsRead, rowsIngested, rowsRejected int64, errorDetail string) error

	// CreateStagingRun starts a new staging run in status running.
	CreateStagingRun(ctx context.Context, loadRunID string, extractType filename.ExtractType) (StagingRun, error)
	// CheckpointStagingRun updates a staging run's counters without changing status.
	CheckpointStagingRun(ctx context.Context, stagingRunID string, rowsRead, rowsTransformed, rowsRejected, rowsUpserted int64) error
	// CompleteStagingRun transitions a staging run to a terminal status.
	CompleteStagingRun(ctx context.Context, stagingRunID string, status StagingRunStatus) error

	// RecordRejections persists a batch of rejections for one staging run.
	RecordRejections(ctx context.Context, extractType filename.ExtractType, rejections []Rejection) error

	Close() error
}
