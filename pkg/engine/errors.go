// Package engine implements the transactional provisioning core: the
// resource graph builder, the WAL-backed transaction coordinator, and the
// crash recovery manager.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeLockContention  = "LOCK_CONTENTION"
	ErrCodeOperationFailed = "OPERATION_FAILED"
	ErrCodeRollbackFailed  = "ROLLBACK_FAILED"
	ErrCodeCorruptWAL      = "CORRUPT_WAL"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// EngineError is a classified error with transaction and operation context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Code identifies the error category for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// TxID is the transaction the error belongs to, if one was begun.
	TxID string `json:"tx_id,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// OpID is the failing operation's id, when the error is operation-scoped.
	OpID int `json:"op_id,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	if e.TxID != "" {
		fmt.Fprintf(&sb, " (tx=%s", e.TxID)
		if e.Resource != "" {
			fmt.Fprintf(&sb, ", resource=%s", e.Resource)
		}
		sb.WriteString(")")
	} else if e.Resource != "" {
		fmt.Fprintf(&sb, " (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two engine errors match on code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithTx adds transaction context to an error.
func (e *EngineError) WithTx(txID string) *EngineError {
	e.TxID = txID
	return e
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(name string) *EngineError {
	e.Resource = name
	return e
}

// NewValidationError reports a malformed resource graph, an unresolved
// reference, or a dependency cycle. Surfaced before any transaction begins.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Code: ErrCodeValidation, Message: message, Err: err}
}

// NewLockContentionError reports that another transaction holds the engine
// lock. The transaction never begins and nothing durable happens.
func NewLockContentionError(message string, err error) *EngineError {
	return &EngineError{Code: ErrCodeLockContention, Message: message, Err: err}
}

// NewOperationError reports an executor failure for one operation. It
// triggers automatic rollback of the prior committed operations.
func NewOperationError(op *Operation, err error) *EngineError {
	return &EngineError{
		Code:     ErrCodeOperationFailed,
		Message:  fmt.Sprintf("operation %d (%s %s) failed", op.ID, op.Kind, op.ResourceType),
		Resource: op.ResourceName,
		OpID:     op.ID,
		Err:      err,
	}
}

// NewCorruptWALError reports a WAL file that could not be parsed during
// recovery. The transaction is skipped, never guessed at.
func NewCorruptWALError(path string, err error) *EngineError {
	return &EngineError{
		Code:     ErrCodeCorruptWAL,
		Message:  fmt.Sprintf("unreadable WAL file %s", path),
		Resource: path,
		Err:      err,
	}
}

// NewInternalError reports an engine invariant violation.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Code: ErrCodeInternal, Message: message, Err: err}
}

// RollbackFailure records one operation whose own rollback failed during
// the unwind pass.
type RollbackFailure struct {
	OpID         int          `json:"op_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	Err          error        `json:"-"`
	Message      string       `json:"message"`
}

// RollbackError aggregates rollback failures alongside the original
// operation error. The transaction still reaches rolled_back, but the
// listed resources were not undone and need operator attention.
type RollbackError struct {
	TxID string

	// Cause is the operation error that triggered the rollback (nil when
	// the rollback was driven by crash recovery).
	Cause error

	Failures []RollbackFailure
}

func (e *RollbackError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] rollback of tx %s completed with %d failed undo(s)",
		ErrCodeRollbackFailed, e.TxID, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&sb, "; op %d %s: %s", f.OpID, f.ResourceName, f.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, " (original failure: %s)", e.Cause.Error())
	}
	return sb.String()
}

// Unwrap exposes the original operation error.
func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// hasCode reports whether err carries the given engine error code.
func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation returns true for validation errors.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsLockContention returns true for lock contention errors.
func IsLockContention(err error) bool { return hasCode(err, ErrCodeLockContention) }

// IsOperationFailed returns true for executor failures.
func IsOperationFailed(err error) bool { return hasCode(err, ErrCodeOperationFailed) }

// IsCorruptWAL returns true for unreadable WAL files.
func IsCorruptWAL(err error) bool { return hasCode(err, ErrCodeCorruptWAL) }

// IsRollbackFailed returns true when err carries rollback failures.
func IsRollbackFailed(err error) bool {
	var e *RollbackError
	return errors.As(err, &e)
}
