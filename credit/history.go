package credit

import (
	"context"

	"github.com/bluecarbon/registry/ledger"
)

// GetHistory returns every committed revision of key id in commit order.
// Deletions carry a zero-value record. Revisions are not diffed or merged;
// callers compare adjacent entries to see what changed. A key that was
// never written yields an empty slice.
func GetHistory(ctx context.Context, tx ledger.Tx, id string) ([]HistoryEntry, error) {
	revisions, err := tx.History(ctx, id)
	if err != nil {
		return nil, storeError("history "+id, err)
	}

	history := make([]HistoryEntry, 0, len(revisions))
	for _, rev := range revisions {
		entry := HistoryEntry{
			TxID:      rev.TxID,
			Timestamp: rev.Timestamp,
			IsDelete:  rev.IsDelete,
		}
		if !rev.IsDelete && len(rev.Value) > 0 {
			c, err := decodeCredit(id, rev.Value)
			if err != nil {
				return nil, err
			}
			entry.Value = *c
		}
		history = append(history, entry)
	}
	return history, nil
}
