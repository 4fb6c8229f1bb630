/*
Package ledger defines the contract between the credit registry and the
replicated key-value ledger it runs on.

PURPOSE:
  The registry never talks to a database directly. Every lifecycle operation
  receives a Tx handle, reads the current world state through it, and leaves
  its writes buffered in it. The Store commits those writes as one unit or
  not at all.

KEY INTERFACES:
  Store: Opens transactions (WithTx)
  Tx:    Per-transaction handle: point reads/writes, range scan, rich query,
         per-key history, transaction id and commit time

TRANSACTION MODEL:
  - Reads observe committed state. A Put followed by a Get on the same key
    inside one Tx returns the committed value, not the buffered one.
  - Writes are buffered and applied atomically on commit.
  - Every key read is versioned. If any of them changed before commit,
    the commit fails with ErrConflict and nothing is written.
  - Now() is fixed for the life of the Tx: all records written by one
    operation carry the same timestamp.

IMPLEMENTATIONS:
  - ledger/store/memory.go:    In-memory, for tests and development
  - store/sqlite/sqlite.go:    SQLite world state + history tables
  - store/postgres/postgres.go: PostgreSQL JSONB world state

SEE ALSO:
  - query.go: Selector format for rich queries
  - credit/engine.go: The lifecycle engine built on Tx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Transaction factory
// =============================================================================

// Store opens ledger transactions.
type Store interface {
	// WithTx executes fn within a single ledger transaction.
	// If fn returns an error, all buffered writes are discarded.
	// If fn returns nil, buffered writes are committed atomically.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// TX - Per-transaction handle
// =============================================================================

// Tx is the handle threaded through every lifecycle call.
// It is only valid inside the WithTx callback that produced it.
type Tx interface {
	// ID returns the transaction identifier.
	ID() string

	// Now returns the transaction timestamp.
	Now() time.Time

	// Get returns the committed value for key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put buffers a write of value under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete buffers the removal of key.
	Delete(ctx context.Context, key string) error

	// Range returns committed entries with start <= key < end, ordered by key.
	// Empty start or end leaves that side unbounded.
	Range(ctx context.Context, start, end string) ([]KV, error)

	// Query returns committed entries matching a rich query (see Selector).
	Query(ctx context.Context, query string) ([]KV, error)

	// History returns every committed revision of key in commit order.
	// A key that was never written yields an empty slice.
	History(ctx context.Context, key string) ([]Modification, error)
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// KV is a single world-state entry.
type KV struct {
	Key   string
	Value []byte
}

// Modification is one committed revision of a key.
type Modification struct {
	TxID      string
	Timestamp time.Time
	IsDelete  bool
	Value     []byte // nil when IsDelete
}
