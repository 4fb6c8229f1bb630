package credit

import (
	"context"
	"encoding/json"

	"github.com/bluecarbon/registry/ledger"
)

// =============================================================================
// QUERY LAYER - read-only projections
// =============================================================================
// None of these filter by caller identity. Authorization belongs to the caller.

// GetAll returns every credit record in world state, ordered by key.
func GetAll(ctx context.Context, tx ledger.Tx) ([]*CreditRecord, error) {
	entries, err := tx.Range(ctx, "", "")
	if err != nil {
		return nil, storeError("range scan", err)
	}

	var credits []*CreditRecord
	for _, kv := range entries {
		c, err := decodeCredit(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		if c.isCredit() {
			credits = append(credits, c)
		}
	}
	return credits, nil
}

func GetByOwner(ctx context.Context, tx ledger.Tx, ownerID string) ([]*CreditRecord, error) {
	return queryCredits(ctx, tx, map[string]any{"ownerId": ownerID})
}

func GetByProject(ctx context.Context, tx ledger.Tx, projectID string) ([]*CreditRecord, error) {
	return queryCredits(ctx, tx, map[string]any{"projectId": projectID})
}

func GetByStatus(ctx context.Context, tx ledger.Tx, status Status) ([]*CreditRecord, error) {
	return queryCredits(ctx, tx, map[string]any{"status": string(status)})
}

// GetTotalByType sums the amount of issued credits of creditType.
// Returns zero, not an error, when nothing matches.
func GetTotalByType(ctx context.Context, tx ledger.Tx, creditType string) (Amount, error) {
	credits, err := queryCredits(ctx, tx, map[string]any{
		"type":   creditType,
		"status": string(StatusIssued),
	})
	if err != nil {
		return Amount{}, err
	}

	total := Amount{}
	for _, c := range credits {
		total = total.Add(c.Amount)
	}
	return total, nil
}

// GetTransfersByCredit returns the transfer log entries written for creditID.
func GetTransfersByCredit(ctx context.Context, tx ledger.Tx, creditID string) ([]*TransferRecord, error) {
	entries, err := runQuery(ctx, tx, DocTypeTransfer, map[string]any{"creditId": creditID})
	if err != nil {
		return nil, err
	}
	transfers := make([]*TransferRecord, 0, len(entries))
	for _, kv := range entries {
		var t TransferRecord
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			return nil, serializationError(kv.Key, err)
		}
		transfers = append(transfers, &t)
	}
	return transfers, nil
}

// GetRetirementsByCredit returns the retirement log entries written for creditID.
func GetRetirementsByCredit(ctx context.Context, tx ledger.Tx, creditID string) ([]*RetirementRecord, error) {
	entries, err := runQuery(ctx, tx, DocTypeRetirement, map[string]any{"creditId": creditID})
	if err != nil {
		return nil, err
	}
	retirements := make([]*RetirementRecord, 0, len(entries))
	for _, kv := range entries {
		var r RetirementRecord
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return nil, serializationError(kv.Key, err)
		}
		retirements = append(retirements, &r)
	}
	return retirements, nil
}

func queryCredits(ctx context.Context, tx ledger.Tx, fields map[string]any) ([]*CreditRecord, error) {
	entries, err := runQuery(ctx, tx, DocTypeCredit, fields)
	if err != nil {
		return nil, err
	}
	credits := make([]*CreditRecord, 0, len(entries))
	for _, kv := range entries {
		c, err := decodeCredit(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, nil
}

func runQuery(ctx context.Context, tx ledger.Tx, docType string, fields map[string]any) ([]ledger.KV, error) {
	fields["docType"] = docType
	query, err := ledger.NewQuery(fields)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	entries, err := tx.Query(ctx, query)
	if err != nil {
		return nil, storeError("rich query", err)
	}
	return entries, nil
}
