/*
Package postgres provides a PostgreSQL-backed implementation of ledger.Store.

PURPOSE:
  Multi-process ledger for deployments where several registry nodes share
  one database. Same table layout and commit protocol as store/sqlite; the
  differences are the dialect and how concurrent commits are isolated.

CONCURRENCY:
  Commits run at SERIALIZABLE isolation. The version check catches writes
  committed before ours; serialization failures (40001) and deadlocks
  (40P01) from racing commits are reported as ledger.ErrConflict so callers
  can retry either case the same way.

RICH QUERIES:
  Every JSON object value is mirrored into a JSONB column with a GIN index.
  Selectors are pushed down as a containment (@>) predicate and re-checked
  with Selector.Match.

ORDERING:
  Keys are compared with COLLATE "C" so range scans follow byte order, as
  they do in the other stores.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node implementation
  - ledger/ledger.go: Store / Tx contract
*/
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bluecarbon/registry/ledger"
)

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool

	clock   func() time.Time
	newTxID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transaction timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithTxIDs overrides the transaction id generator.
func WithTxIDs(gen func() string) Option {
	return func(s *Store) { s.newTxID = gen }
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{
		pool:    pool,
		clock:   func() time.Time { return time.Now().UTC() },
		newTxID: ledger.NewTxID,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS world_state (
		key TEXT PRIMARY KEY,
		value BYTEA,
		doc JSONB,
		version BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_world_state_doc
		ON world_state USING GIN (doc jsonb_path_ops);

	CREATE TABLE IF NOT EXISTS history (
		seq BIGSERIAL PRIMARY KEY,
		key TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		is_delete BOOLEAN NOT NULL DEFAULT FALSE,
		value BYTEA
	);

	CREATE INDEX IF NOT EXISTS idx_history_key_seq
		ON history(key, seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Reset clears all data (for tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE world_state, history RESTART IDENTITY")
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Store interface)
// =============================================================================

// WithTx executes fn within a ledger transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txView{
		parent: s,
		id:     s.newTxID(),
		now:    s.clock(),
		reads:  make(map[string]int64),
		writes: make(map[string]int),
	}
	err := fn(tx)
	tx.closed = true
	if err != nil {
		return err
	}
	if err := s.commit(ctx, tx); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (s *Store) commit(ctx context.Context, tx *txView) error {
	if len(tx.pending) == 0 {
		return nil
	}

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	for key, version := range tx.reads {
		var current int64
		err := pgTx.QueryRow(ctx, "SELECT version FROM world_state WHERE key = $1", key).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read version: %w", err)
		}
		if current != version {
			return ledger.ErrConflict
		}
	}

	for _, w := range tx.pending {
		var seq int64
		err := pgTx.QueryRow(ctx, `
			INSERT INTO history (key, tx_id, ts, is_delete, value)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq
		`, w.key, tx.id, tx.now, w.value == nil, w.value).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}

		_, err = pgTx.Exec(ctx, `
			INSERT INTO world_state (key, value, doc, version)
			VALUES ($1, $2, $3::jsonb, $4)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				doc = EXCLUDED.doc,
				version = EXCLUDED.version
		`, w.key, w.value, jsonDoc(w.value), seq)
		if err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	return pgTx.Commit(ctx)
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type write struct {
	key   string
	value []byte // nil = delete
}

type txView struct {
	parent *Store
	id     string
	now    time.Time
	closed bool

	reads   map[string]int64
	pending []write
	writes  map[string]int
}

func (tx *txView) ID() string     { return tx.id }
func (tx *txView) Now() time.Time { return tx.now }

func (tx *txView) Get(ctx context.Context, key string) ([]byte, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}

	var (
		value   []byte
		version int64
	)
	err := tx.parent.pool.QueryRow(ctx,
		"SELECT value, version FROM world_state WHERE key = $1", key,
	).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		tx.recordRead(key, 0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	tx.recordRead(key, version)
	return value, nil
}

func (tx *txView) Put(_ context.Context, key string, value []byte) error {
	if tx.closed {
		return ledger.ErrTxClosed
	}
	if key == "" {
		return ledger.ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	tx.buffer(key, append([]byte{}, value...))
	return nil
}

func (tx *txView) Delete(_ context.Context, key string) error {
	if tx.closed {
		return ledger.ErrTxClosed
	}
	if key == "" {
		return ledger.ErrEmptyKey
	}
	tx.buffer(key, nil)
	return nil
}

func (tx *txView) Range(ctx context.Context, start, end string) ([]ledger.KV, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}

	rows, err := tx.parent.pool.Query(ctx, `
		SELECT key, value, version FROM world_state
		WHERE value IS NOT NULL
		  AND key COLLATE "C" >= $1
		  AND ($2 = '' OR key COLLATE "C" < $2)
		ORDER BY key COLLATE "C" ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to range: %w", err)
	}
	defer rows.Close()

	var result []ledger.KV
	for rows.Next() {
		var (
			kv      ledger.KV
			version int64
		)
		if err := rows.Scan(&kv.Key, &kv.Value, &version); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		tx.recordRead(kv.Key, version)
		result = append(result, kv)
	}
	return result, rows.Err()
}

func (tx *txView) Query(ctx context.Context, query string) ([]ledger.KV, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}
	sel, err := ledger.ParseSelector(query)
	if err != nil {
		return nil, err
	}
	contains, err := json.Marshal(map[string]any(sel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidQuery, err)
	}

	rows, err := tx.parent.pool.Query(ctx, `
		SELECT key, value FROM world_state
		WHERE doc @> $1::jsonb
		ORDER BY key COLLATE "C" ASC
	`, string(contains))
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []ledger.KV
	for rows.Next() {
		var kv ledger.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		if sel.Match(kv.Value) {
			result = append(result, kv)
		}
	}
	return result, rows.Err()
}

func (tx *txView) History(ctx context.Context, key string) ([]ledger.Modification, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}

	rows, err := tx.parent.pool.Query(ctx, `
		SELECT tx_id, ts, is_delete, value FROM history
		WHERE key = $1
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	result := []ledger.Modification{}
	for rows.Next() {
		var m ledger.Modification
		if err := rows.Scan(&m.TxID, &m.Timestamp, &m.IsDelete, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		result = append(result, m)
	}
	return result, rows.Err()
}

func (tx *txView) recordRead(key string, version int64) {
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
}

func (tx *txView) buffer(key string, value []byte) {
	if i, ok := tx.writes[key]; ok {
		tx.pending[i].value = value
		return
	}
	tx.writes[key] = len(tx.pending)
	tx.pending = append(tx.pending, write{key: key, value: value})
}

// =============================================================================
// HELPERS
// =============================================================================

// jsonDoc returns the value as a JSONB parameter when it is a JSON object.
func jsonDoc(value []byte) *string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil
	}
	doc := string(trimmed)
	return &doc
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
