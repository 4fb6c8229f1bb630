/*
errors.go - Error taxonomy for the credit registry

ERROR KINDS:
  AlreadyExists      Create on an existing key
  NotFound           Operation on an absent key
  Unauthorized       Caller-supplied owner differs from the record owner
  InvalidState       Operation not permitted from the current status
  InsufficientAmount Requested amount exceeds the record amount
  InvalidArgument    Malformed request (empty id, non-positive amount, ...)
  Serialization      Stored bytes could not be decoded
  Store              The ledger call itself failed (I/O, conflict, abort)

PROPAGATION:
  Every error aborts the operation before commit. Nothing is retried here;
  IsRetryable tells callers which failures a fresh attempt might fix.

  Structured errors carry context and unwrap to their sentinel:

    var ie *credit.InsufficientAmountError
    if errors.As(err, &ie) { ... ie.Available ... }
    if errors.Is(err, credit.ErrInsufficientAmount) { ... }
*/
package credit

import (
	"errors"
	"fmt"

	"github.com/bluecarbon/registry/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAlreadyExists      = errors.New("credit already exists")
	ErrNotFound           = errors.New("credit does not exist")
	ErrUnauthorized       = errors.New("caller is not the credit owner")
	ErrInvalidState       = errors.New("credit is not in a valid status for this operation")
	ErrInsufficientAmount = errors.New("insufficient credit amount")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSerialization      = errors.New("credit serialization failed")
	ErrStore              = errors.New("ledger store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports a transition attempted from the wrong status.
type InvalidStateError struct {
	CreditID  string
	Operation Operation
	Status    Status
	Required  Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("credit %s is not in %s status (status %s, operation %s)",
		e.CreditID, e.Required, e.Status, e.Operation)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientAmountError provides details about an amount shortage.
type InsufficientAmountError struct {
	CreditID  string
	Available Amount
	Requested Amount
}

func (e *InsufficientAmountError) Error() string {
	return fmt.Sprintf("insufficient credit amount for %s. Available: %s, Requested: %s",
		e.CreditID, e.Available, e.Requested)
}

func (e *InsufficientAmountError) Unwrap() error { return ErrInsufficientAmount }

// UnauthorizedError reports an ownership mismatch.
type UnauthorizedError struct {
	CreditID string
	OwnerID  string // supplied by the caller
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("credit %s is not owned by %s", e.CreditID, e.OwnerID)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func notFound(id string) error      { return fmt.Errorf("credit %s: %w", id, ErrNotFound) }
func alreadyExists(id string) error { return fmt.Errorf("credit %s: %w", id, ErrAlreadyExists) }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func serializationError(key string, err error) error {
	return fmt.Errorf("%w: key %s: %w", ErrSerialization, key, err)
}

func storeError(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, action, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var kinds = []struct {
	err  error
	name string
}{
	{ErrAlreadyExists, "already_exists"},
	{ErrNotFound, "not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrInsufficientAmount, "insufficient_amount"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrSerialization, "serialization_error"},
	{ErrStore, "store_error"},
}

// Kind returns the taxonomy name of err ("" for nil, "internal" if unclassified).
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// classify wraps anything outside the taxonomy as a store failure.
func classify(action string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "internal" {
		return err
	}
	return storeError(action, err)
}

// IsClientError returns true if the error is due to the request, not the ledger.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientAmount) ||
		errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if the error indicates a missing credit.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if a fresh attempt might succeed.
func IsRetryable(err error) bool {
	return ledger.IsRetryable(err)
}
