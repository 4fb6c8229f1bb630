package credit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bluecarbon/registry/ledger"
)

// derived key shapes: <id>-remaining-<unix>-<tx>, transfer-<id>-<unix>-<tx>, retirement-<id>-<unix>-<tx>
// The tx suffix keeps two operations on one id within the same second apart.

func remainderKey(tx ledger.Tx, creditID string) string {
	return fmt.Sprintf("%s-remaining-%d-%s", creditID, tx.Now().Unix(), txSuffix(tx))
}

func transferKey(tx ledger.Tx, creditID string) string {
	return fmt.Sprintf("transfer-%s-%d-%s", creditID, tx.Now().Unix(), txSuffix(tx))
}

func retirementKey(tx ledger.Tx, creditID string) string {
	return fmt.Sprintf("retirement-%s-%d-%s", creditID, tx.Now().Unix(), txSuffix(tx))
}

func txSuffix(tx ledger.Tx) string {
	id := tx.ID()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func putJSON(ctx context.Context, tx ledger.Tx, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return serializationError(key, err)
	}
	if err := tx.Put(ctx, key, b); err != nil {
		return storeError("put "+key, err)
	}
	return nil
}

func decodeCredit(key string, b []byte) (*CreditRecord, error) {
	var c CreditRecord
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, serializationError(key, err)
	}
	return &c, nil
}
