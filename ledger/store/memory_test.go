package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecarbon/registry/ledger"
	"github.com/bluecarbon/registry/ledger/store"
)

func put(t *testing.T, s ledger.Store, key, value string) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.Put(context.Background(), key, []byte(value))
	}))
}

func get(t *testing.T, s ledger.Store, key string) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, s.WithTx(context.Background(), func(tx ledger.Tx) (err error) {
		out, err = tx.Get(context.Background(), key)
		return err
	}))
	return out
}

func TestMemory_GetAbsentKey_ReturnsNil(t *testing.T) {
	m := store.NewMemory()
	assert.Nil(t, get(t, m, "missing"))
}

func TestMemory_WritesAreBufferedUntilCommit(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.Put(ctx, "k", []byte("v1")))
		got, err := tx.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, got, "reads observe committed state only")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), get(t, m, "k"))
}

func TestMemory_CallbackError_DiscardsWrites(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.Put(ctx, "a", []byte("1")))
		require.NoError(t, tx.Put(ctx, "b", []byte("2")))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, get(t, m, "a"))
	assert.Nil(t, get(t, m, "b"))
}

func TestMemory_ReadConflict_AbortsCommit(t *testing.T) {
	// GIVEN: tx A has read key k
	// WHEN: tx B commits a write to k before A commits
	// THEN: A fails with ErrConflict and none of its writes land
	m := store.NewMemory()
	ctx := context.Background()
	put(t, m, "k", "0")

	err := m.WithTx(ctx, func(a ledger.Tx) error {
		_, err := a.Get(ctx, "k")
		require.NoError(t, err)

		put(t, m, "k", "from-b")

		require.NoError(t, a.Put(ctx, "k", []byte("from-a")))
		return a.Put(ctx, "other", []byte("x"))
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, []byte("from-b"), get(t, m, "k"))
	assert.Nil(t, get(t, m, "other"))
}

func TestMemory_DeleteThenRecreate_IsStillAConflict(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	put(t, m, "k", "0")

	err := m.WithTx(ctx, func(a ledger.Tx) error {
		_, _ = a.Get(ctx, "k")
		require.NoError(t, m.WithTx(ctx, func(b ledger.Tx) error { return b.Delete(ctx, "k") }))
		put(t, m, "k", "0")
		return a.Put(ctx, "k", []byte("a"))
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestMemory_History_CommitOrderWithDeletes(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"tx1", "tx2", "tx3", "tx4"}
	next := 0
	m := store.NewMemory(
		store.WithClock(func() time.Time { clock = clock.Add(time.Minute); return clock }),
		store.WithTxIDs(func() string { id := ids[next]; next++; return id }),
	)
	ctx := context.Background()

	put(t, m, "k", "v1")
	put(t, m, "k", "v2")
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error { return tx.Delete(ctx, "k") }))

	var history []ledger.Modification
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) (err error) {
		history, err = tx.History(ctx, "k")
		return err
	}))

	require.Len(t, history, 3)
	assert.Equal(t, "tx1", history[0].TxID)
	assert.Equal(t, []byte("v1"), history[0].Value)
	assert.Equal(t, "tx2", history[1].TxID)
	assert.Equal(t, "tx3", history[2].TxID)
	assert.True(t, history[2].IsDelete)
	assert.Nil(t, history[2].Value)
	assert.True(t, history[1].Timestamp.After(history[0].Timestamp))
}

func TestMemory_RangeAndQuery(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	put(t, m, "a", `{"ownerId":"o1","amount":10}`)
	put(t, m, "b", `{"ownerId":"o2","amount":10.0}`)
	put(t, m, "c", `{"ownerId":"o1","amount":5}`)

	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		all, err := tx.Range(ctx, "", "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].Key)

		bounded, err := tx.Range(ctx, "b", "c")
		require.NoError(t, err)
		require.Len(t, bounded, 1)
		assert.Equal(t, "b", bounded[0].Key)

		byOwner, err := tx.Query(ctx, `{"selector":{"ownerId":"o1"}}`)
		require.NoError(t, err)
		assert.Len(t, byOwner, 2)

		byAmount, err := tx.Query(ctx, `{"selector":{"amount":10}}`)
		require.NoError(t, err)
		assert.Len(t, byAmount, 2, "numeric selector values compare by value")

		_, err = tx.Query(ctx, `{"selector":{"owner id":"x"}}`)
		assert.ErrorIs(t, err, ledger.ErrInvalidQuery)
		return nil
	}))
}

func TestMemory_TxUnusableAfterCallback(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var leaked ledger.Tx
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		leaked = tx
		return nil
	}))
	_, err := leaked.Get(ctx, "k")
	assert.ErrorIs(t, err, ledger.ErrTxClosed)
	assert.ErrorIs(t, leaked.Put(ctx, "k", []byte("v")), ledger.ErrTxClosed)
}

func TestMemory_EmptyKeyRejected(t *testing.T) {
	m := store.NewMemory()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.Put(context.Background(), "", []byte("v"))
	})
	assert.ErrorIs(t, err, ledger.ErrEmptyKey)
}
