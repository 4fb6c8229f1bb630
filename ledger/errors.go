package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned on commit when a key read by the transaction was
	// changed by another transaction that committed first.
	ErrConflict = errors.New("ledger: read conflict")

	// ErrTxClosed is returned when a Tx is used after its WithTx callback returned.
	ErrTxClosed = errors.New("ledger: transaction closed")

	// ErrInvalidQuery is returned when a rich query cannot be parsed.
	ErrInvalidQuery = errors.New("ledger: invalid query")

	// ErrEmptyKey is returned when a write targets the empty key.
	ErrEmptyKey = errors.New("ledger: empty key")
)

// IsRetryable returns true if the operation might succeed on a fresh transaction.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
