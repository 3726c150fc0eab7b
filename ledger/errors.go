/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place. Every rejection carries enough context
  to name the work or material involved.

ERROR CATEGORIES:
  1. Not found        - work, material, report or foreman missing
  2. Insufficiency    - a debit would drive a balance or stock negative
  3. Validation       - malformed client input
  4. Conflict         - uniqueness violation (duplicate work name)
  5. Storage          - anything the store returned that is not one of the above

CLASSIFICATION:
  KindOf(err) maps any error to a closed Kind enumeration so callers
  (HTTP, bot, metrics) can switch exhaustively instead of string matching.

SEE ALSO:
  - engine.go: Wraps unknown errors as StorageError
  - api/handlers.go: Maps Kind to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrWorkNotFound     = errors.New("work not found")
	ErrMaterialNotFound = errors.New("material not found")
	ErrReportNotFound   = errors.New("report not found")
	ErrForemanNotFound  = errors.New("foreman not found")

	// ErrInsufficientBalance is returned when a report would overdraw a work's balance.
	ErrInsufficientBalance = errors.New("insufficient work balance")

	// ErrInsufficientMaterial is returned when a report would overdraw a material's stock.
	ErrInsufficientMaterial = errors.New("insufficient material")

	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned by stores on uniqueness violations.
	ErrConflict = errors.New("conflict")

	// ErrStorage marks failures of the underlying store. The whole unit of
	// work has been rolled back when a caller sees it.
	ErrStorage = errors.New("storage failure")

	// ErrHistoryMismatch is returned by VerifyHistory when replay disagrees
	// with the recorded quantities.
	ErrHistoryMismatch = errors.New("material history mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Entity names the kind of record a NotFoundError refers to.
type Entity string

const (
	EntityWork     Entity = "work"
	EntityMaterial Entity = "material"
	EntityReport   Entity = "report"
	EntityForeman  Entity = "foreman"
)

type NotFoundError struct {
	Entity Entity
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Entity {
	case EntityWork:
		return ErrWorkNotFound
	case EntityMaterial:
		return ErrMaterialNotFound
	case EntityReport:
		return ErrReportNotFound
	case EntityForeman:
		return ErrForemanNotFound
	}
	return nil
}

// InsufficientBalanceError provides details about a work balance shortage.
type InsufficientBalanceError struct {
	WorkID    WorkID
	WorkName  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for work %q: available %s, requested %s",
		e.WorkName, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InsufficientMaterialError names the first material that cannot cover a report.
type InsufficientMaterialError struct {
	MaterialID   MaterialID
	MaterialName string
	Available    decimal.Decimal
	Required     decimal.Decimal
}

func (e *InsufficientMaterialError) Error() string {
	return fmt.Sprintf("insufficient material %q: available %s, required %s",
		e.MaterialName, e.Available, e.Required)
}

func (e *InsufficientMaterialError) Unwrap() error {
	return ErrInsufficientMaterial
}

type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// StorageError wraps a store failure with the operation that hit it.
// It matches both ErrStorage and the underlying error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// HistoryMismatchError reports the first history row whose recorded
// resulting quantity disagrees with the replayed running sum. EntryID is
// zero when the rows are consistent but the material's current quantity
// is not.
type HistoryMismatchError struct {
	MaterialID MaterialID
	EntryID    int64
	Expected   decimal.Decimal
	Recorded   decimal.Decimal
}

func (e *HistoryMismatchError) Error() string {
	if e.EntryID == 0 {
		return fmt.Sprintf("material %d: quantity %s does not match history sum %s",
			e.MaterialID, e.Recorded, e.Expected)
	}
	return fmt.Sprintf("material %d: history entry %d records %s, replay gives %s",
		e.MaterialID, e.EntryID, e.Recorded, e.Expected)
}

func (e *HistoryMismatchError) Unwrap() error {
	return ErrHistoryMismatch
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Kind is the closed set of failure categories surfaced to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindWorkNotFound
	KindMaterialNotFound
	KindReportNotFound
	KindForemanNotFound
	KindInsufficientBalance
	KindInsufficientMaterial
	KindInvalidInput
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindWorkNotFound:
		return "work_not_found"
	case KindMaterialNotFound:
		return "material_not_found"
	case KindReportNotFound:
		return "report_not_found"
	case KindForemanNotFound:
		return "foreman_not_found"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindInsufficientMaterial:
		return "insufficient_material"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// KindOf classifies err. A nil error is KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrWorkNotFound):
		return KindWorkNotFound
	case errors.Is(err, ErrMaterialNotFound):
		return KindMaterialNotFound
	case errors.Is(err, ErrReportNotFound):
		return KindReportNotFound
	case errors.Is(err, ErrForemanNotFound):
		return KindForemanNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrInsufficientMaterial):
		return KindInsufficientMaterial
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStorage):
		return KindStorage
	}
	return KindUnknown
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorage
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInsufficientBalance, KindInsufficientMaterial, KindInvalidInput, KindConflict:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindWorkNotFound, KindMaterialNotFound, KindReportNotFound, KindForemanNotFound:
		return true
	}
	return false
}

func invalid(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
