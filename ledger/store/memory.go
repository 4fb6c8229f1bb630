// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bluecarbon/registry/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory ledger with MVCC commit validation and full
// per-key history. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	state    map[string][]byte
	versions map[string]uint64 // survives deletes so a re-created key is still a change
	history  map[string][]ledger.Modification
	seq      uint64

	clock   func() time.Time
	newTxID func() string
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock overrides the transaction timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(m *Memory) { m.clock = clock }
}

// WithTxIDs overrides the transaction id generator.
func WithTxIDs(gen func() string) Option {
	return func(m *Memory) { m.newTxID = gen }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		state:    make(map[string][]byte),
		versions: make(map[string]uint64),
		history:  make(map[string][]ledger.Modification),
		clock:    func() time.Time { return time.Now().UTC() },
		newTxID:  ledger.NewTxID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTx executes fn within a transaction. Writes are buffered in the
// transaction and applied under the store lock only if fn succeeds and no
// key read by fn changed in the meantime.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		parent: m,
		id:     m.newTxID(),
		now:    m.clock(),
		reads:  make(map[string]uint64),
		writes: make(map[string]int),
	}
	err := fn(tx)
	tx.closed = true
	if err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memoryTx) error {
	if len(tx.pending) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, version := range tx.reads {
		if m.versions[key] != version {
			return ledger.ErrConflict
		}
	}

	m.seq++
	for _, w := range tx.pending {
		if w.value == nil {
			delete(m.state, w.key)
		} else {
			m.state[w.key] = w.value
		}
		m.versions[w.key] = m.seq
		m.history[w.key] = append(m.history[w.key], ledger.Modification{
			TxID:      tx.id,
			Timestamp: tx.now,
			IsDelete:  w.value == nil,
			Value:     w.value,
		})
	}
	return nil
}

// sortedKeys must be called with m.mu held.
func (m *Memory) sortedKeys() []string {
	keys := make([]string, 0, len(m.state))
	for k := range m.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type write struct {
	key   string
	value []byte // nil = delete
}

type memoryTx struct {
	parent *Memory
	id     string
	now    time.Time
	closed bool

	reads   map[string]uint64
	pending []write
	writes  map[string]int // key -> index in pending
}

func (tx *memoryTx) ID() string     { return tx.id }
func (tx *memoryTx) Now() time.Time { return tx.now }

func (tx *memoryTx) Get(_ context.Context, key string) ([]byte, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}
	m := tx.parent
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx.recordRead(key, m.versions[key])
	return clone(m.state[key]), nil
}

func (tx *memoryTx) Put(_ context.Context, key string, value []byte) error {
	if tx.closed {
		return ledger.ErrTxClosed
	}
	if key == "" {
		return ledger.ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	tx.buffer(key, clone(value))
	return nil
}

func (tx *memoryTx) Delete(_ context.Context, key string) error {
	if tx.closed {
		return ledger.ErrTxClosed
	}
	if key == "" {
		return ledger.ErrEmptyKey
	}
	tx.buffer(key, nil)
	return nil
}

func (tx *memoryTx) Range(_ context.Context, start, end string) ([]ledger.KV, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}
	m := tx.parent
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.KV
	for _, k := range m.sortedKeys() {
		if start != "" && k < start {
			continue
		}
		if end != "" && k >= end {
			break
		}
		tx.recordRead(k, m.versions[k])
		result = append(result, ledger.KV{Key: k, Value: clone(m.state[k])})
	}
	return result, nil
}

func (tx *memoryTx) Query(_ context.Context, query string) ([]ledger.KV, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}
	sel, err := ledger.ParseSelector(query)
	if err != nil {
		return nil, err
	}

	m := tx.parent
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.KV
	for _, k := range m.sortedKeys() {
		if sel.Match(m.state[k]) {
			result = append(result, ledger.KV{Key: k, Value: clone(m.state[k])})
		}
	}
	return result, nil
}

func (tx *memoryTx) History(_ context.Context, key string) ([]ledger.Modification, error) {
	if tx.closed {
		return nil, ledger.ErrTxClosed
	}
	m := tx.parent
	m.mu.RLock()
	defer m.mu.RUnlock()

	revisions := m.history[key]
	result := make([]ledger.Modification, len(revisions))
	for i, r := range revisions {
		r.Value = clone(r.Value)
		result[i] = r
	}
	return result, nil
}

func (tx *memoryTx) recordRead(key string, version uint64) {
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
}

// buffer keeps the last write per key, in first-write order.
func (tx *memoryTx) buffer(key string, value []byte) {
	if i, ok := tx.writes[key]; ok {
		tx.pending[i].value = value
		return
	}
	tx.writes[key] = len(tx.pending)
	tx.pending = append(tx.pending, write{key: key, value: value})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
