// Package ingesterr collapses the engine's error taxonomy into a single
// tagged error value instead of an exception hierarchy, following the
// sentinel-error + context-record idiom used throughout this codebase.
package ingesterr

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the error taxonomy from spec §7.
type Kind string

const (
	// KindConfiguration covers invalid options or missing credentials. Fatal, pre-run.
	KindConfiguration Kind = "configuration"
	// KindObjectStoreTransient covers network/throttling errors, retried with backoff.
	KindObjectStoreTransient Kind = "object_store_transient"
	// KindObjectStoreTerminal covers missing objects or access denial.
	KindObjectStoreTerminal Kind = "object_store_terminal"
	// KindParseStructural covers field-count mismatches and framing corruption.
	KindParseStructural Kind = "parse_structural"
	// KindIdempotency marks a duplicate (version-id, hash) pair.
	KindIdempotency Kind = "idempotency"
	// KindDBTransient covers connection drops and deadlocks; retried.
	KindDBTransient Kind = "db_transient"
	// KindDBConstraint covers a unique violation that doesn't match the conflict rule.
	KindDBConstraint Kind = "db_constraint"
	// KindValidation covers per-row validation rule failures.
	KindValidation Kind = "validation"
	// KindTypeCoercion covers per-row type coercion failures.
	KindTypeCoercion Kind = "type_coercion"
	// KindMissingRequired covers a null value in a required column.
	KindMissingRequired Kind = "missing_required"
	// KindResourceExhaustion covers memory/connection cap breaches. Critical.
	KindResourceExhaustion Kind = "resource_exhaustion"
)

// Retryable reports whether errors of this kind are worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case KindObjectStoreTransient, KindDBTransient:
		return true
	default:
		return false
	}
}

// Error is the single tagged error value used across the engine, carrying
// the context record §7 requires for structured logging: load_run_id,
// object_key, row_number, column, operation, timestamp, retryable.
type Error struct {
	Kind      Kind
	LoadRunID string
	ObjectKey string
	RowNumber int
	Column    string
	Operation string
	Timestamp time.Time
	Err       error
}

// New builds an Error with Timestamp set to the current UTC time.
func New(kind Kind, operation string, err error) *Error {
	return &Error{
		Kind:      kind,
		Operation: operation,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// WithContext returns a copy of e with the given context fields populated.
// Zero-value arguments leave the corresponding field unchanged.
func (e *Error) WithContext(loadRunID, objectKey string, rowNumber int, column string) *Error {
	clone := *e
	if loadRunID != "" {
		clone.LoadRunID = loadRunID
	}

	if objectKey != "" {
		clone.ObjectKey = objectKey
	}

	if rowNumber != 0 {
		clone.RowNumber = rowNumber
	}

	if column != "" {
		clone.Column = column
	}

	return &clone
}

// Retryable reports whether this specific error is worth retrying.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Operation)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Operation, e.Err)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, ingesterr.New(ingesterr.KindValidation, "", nil)) style checks
// as well as direct Kind comparisons via Of.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return e.Kind == other.Kind
}

// Of extracts the Kind of err if it is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return "", false
}
