/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable single-node ledger. World state and per-key history live in two
  tables; a transaction buffers its writes in memory and applies them in one
  SQL transaction at commit, after checking that nothing it read has moved.

KEY TABLES:
  world_state: key -> current value and version. Deleted keys keep their
               row with value NULL so a re-created key gets a new version.
  history:     Append-only log of every committed write, in commit order.
               Its autoincrement seq doubles as the key version.

COMMIT PROTOCOL:
  1. fn runs; Get/Range record the version of every key they return
  2. Commit takes the store mutex and opens a SQL transaction
  3. Any recorded version that differs from world_state -> ErrConflict
  4. Each pending write appends a history row and upserts world_state
  5. COMMIT

RICH QUERIES:
  Selector fields are pushed down as json_extract() equality predicates.
  Rows the database returns are then re-checked with Selector.Match so the
  result is identical to the in-memory store.

USAGE:
  store, err := sqlite.New("./data/registry.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reg := credit.NewRegistry(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/ledger.go: Store / Tx contract
  - ledger/store/memory.go: In-memory implementation for tests
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bluecarbon/registry/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes commits

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

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:      db,
		clock:   func() time.Time { return time.Now().UTC() },
		newTxID: ledger.NewTxID,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS world_state (
		key TEXT PRIMARY KEY,
		value TEXT,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		is_delete INTEGER NOT NULL DEFAULT 0,
		value TEXT
	);

	-- Per-key history replay (hot path for GetCreditHistory)
	CREATE INDEX IF NOT EXISTS idx_history_key_seq
		ON history(key, seq);
	`

	_, err := s.db.Exec(schema)
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
	return s.commit(ctx, tx)
}

func (s *Store) commit(ctx context.Context, tx *txView) error {
	if len(tx.pending) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for key, version := range tx.reads {
		current, err := versionOf(ctx, sqlTx, key)
		if err != nil {
			return err
		}
		if current != version {
			return ledger.ErrConflict
		}
	}

	ts := tx.now.UTC().Format(time.RFC3339Nano)
	for _, w := range tx.pending {
		res, err := sqlTx.ExecContext(ctx,
			`INSERT INTO history (key, tx_id, ts, is_delete, value) VALUES (?, ?, ?, ?, ?)`,
			w.key, tx.id, ts, w.value == nil, nullText(w.value),
		)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read history seq: %w", err)
		}

		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO world_state (key, value, version) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				version = excluded.version
		`, w.key, nullText(w.value), seq)
		if err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	return sqlTx.Commit()
}

func versionOf(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, key string) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, "SELECT version FROM world_state WHERE key = ?", key).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return version, nil
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
		value   sql.NullString
		version int64
	)
	err := tx.parent.db.QueryRowContext(ctx,
		"SELECT value, version FROM world_state WHERE key = ?", key,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		tx.recordRead(key, 0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	tx.recordRead(key, version)
	if !value.Valid {
		return nil, nil
	}
	return []byte(value.String), nil
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

	query := `
		SELECT key, value, version FROM world_state
		WHERE value IS NOT NULL AND key >= ? AND (? = '' OR key < ?)
		ORDER BY key ASC
	`
	rows, err := tx.parent.db.QueryContext(ctx, query, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("failed to range: %w", err)
	}
	defer rows.Close()

	var result []ledger.KV
	for rows.Next() {
		var (
			kv      ledger.KV
			value   string
			version int64
		)
		if err := rows.Scan(&kv.Key, &value, &version); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		kv.Value = []byte(value)
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

	where, args := selectorPredicate(sel)
	rows, err := tx.parent.db.QueryContext(ctx,
		"SELECT key, value FROM world_state WHERE "+where+" ORDER BY key ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []ledger.KV
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		if sel.Match([]byte(value)) {
			result = append(result, ledger.KV{Key: key, Value: []byte(value)})
		}
	}
	return result, rows.Err()
}

func (tx *txView) History(ctx context.Context, key string) ([]ledger.Modification, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}

	rows, err := tx.parent.db.QueryContext(ctx, `
		SELECT tx_id, ts, is_delete, value FROM history
		WHERE key = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	result := []ledger.Modification{}
	for rows.Next() {
		var (
			m     ledger.Modification
			ts    string
			value sql.NullString
		)
		if err := rows.Scan(&m.TxID, &ts, &m.IsDelete, &value); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse history timestamp %q: %w", ts, err)
		}
		if value.Valid {
			m.Value = []byte(value.String)
		}
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

// selectorPredicate narrows candidate rows in SQL. It may over-select;
// Selector.Match is the final filter.
func selectorPredicate(sel ledger.Selector) (string, []any) {
	clauses := []string{"value IS NOT NULL", "json_valid(value)"}
	var args []any
	for _, field := range sel.Fields() {
		path := "$." + field
		switch v := sel[field].(type) {
		case string:
			clauses = append(clauses, "CASE WHEN json_valid(value) THEN json_extract(value, ?) END = ?")
			args = append(args, path, v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				continue
			}
			clauses = append(clauses, "CASE WHEN json_valid(value) THEN json_extract(value, ?) END = ?")
			args = append(args, path, f)
		case bool:
			clauses = append(clauses, "CASE WHEN json_valid(value) THEN json_type(value, ?) END = ?")
			if v {
				args = append(args, path, "true")
			} else {
				args = append(args, path, "false")
			}
		case nil:
			clauses = append(clauses, "CASE WHEN json_valid(value) THEN json_type(value, ?) END = 'null'")
			args = append(args, path)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
