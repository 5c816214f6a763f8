/*
errors.go - Centralized error types for the spares ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejection the Executor can produce is a typed, business-meaningful
  failure: the operator must be told why a movement did not post.

ERROR CATEGORIES:
  1. Input errors - InvalidQuantity, InvalidMovementType, InvalidItem, InvalidPeriod
  2. Business rule errors - InsufficientStock, AlreadySeeded
  3. Concurrency errors - ConcurrencyConflict (retried, then terminal)
  4. Lookup errors - ItemNotFound
  5. Store errors - CorruptRecord (strict decoding boundary)

USAGE:
  entry, err := executor.Execute(ctx, movement)
  var short *inventory.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println("only", short.Available, "on hand")
  }

SEE ALSO:
  - executor.go: Produces most of these errors
  - api/handlers.go: Maps them onto HTTP statuses
*/
package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned for non-numeric or non-positive movement
	// quantities. It is raised before any write.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidMovementType is returned when the type is not RECEIVE or ISSUE.
	ErrInvalidMovementType = errors.New("invalid movement type")

	// ErrInsufficientStock is returned when an ISSUE would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict is returned when the unit of work lost a race.
	// The Executor retries it internally before surfacing it.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrItemNotFound is returned when a referenced item doesn't exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidItem is returned when descriptive item fields are malformed.
	ErrInvalidItem = errors.New("invalid item")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrAlreadySeeded is returned by the one-time import once the store holds items.
	ErrAlreadySeeded = errors.New("inventory already seeded")

	// ErrCorruptRecord is returned when a stored row does not match the schema.
	ErrCorruptRecord = errors.New("corrupt record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError carries the stock that was on hand when the
// ISSUE was rejected.
type InsufficientStockError struct {
	ItemID    ItemID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ConflictError is the terminal failure after the retry budget is spent.
type ConflictError struct {
	ItemID   ItemID
	Attempts int
	Last     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("movement on %s abandoned after %d attempts: %v", e.ItemID, e.Attempts, e.Last)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// CorruptRecordError names the field that failed strict decoding.
type CorruptRecordError struct {
	Table string
	ID    string
	Field string
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s/%s: field %s: %v", e.Table, e.ID, e.Field, e.Err)
}

func (e *CorruptRecordError) Unwrap() []error {
	return []error{ErrCorruptRecord, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input or
// a business rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidMovementType) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadySeeded)
}

// IsNotFound returns true if the error indicates a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
