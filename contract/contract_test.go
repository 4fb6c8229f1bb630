package contract_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecarbon/registry/contract"
	"github.com/bluecarbon/registry/credit"
	"github.com/bluecarbon/registry/ledger/store"
)

func setupContract(t *testing.T) *contract.Contract {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return contract.New(credit.NewRegistry(store.NewMemory(), credit.WithLogger(logger)))
}

func seedIssued(t *testing.T, c *contract.Contract, id, owner, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.Invoke(ctx, "CreateCredit", []string{id, "P-1", owner, amount, "mangrove", "V-1", "MRV-1"})
	require.NoError(t, err)
	_, err = c.Invoke(ctx, "IssueCredit", []string{id})
	require.NoError(t, err)
}

func TestContract_CreateIssueRead(t *testing.T) {
	c := setupContract(t)
	seedIssued(t, c, "CC-1", "ngo-1", "100")

	out, err := c.Query(context.Background(), "ReadCredit", []string{"CC-1"})
	require.NoError(t, err)

	rec, ok := out.(*credit.CreditRecord)
	require.True(t, ok)
	assert.Equal(t, credit.StatusIssued, rec.Status)
	assert.Equal(t, "100", rec.Amount.String())
}

func TestContract_TransferWithAndWithoutPrice(t *testing.T) {
	// GIVEN: an issued credit of 100
	// WHEN: 25 is transferred with a price, then the rest without one
	// THEN: both calls decode their arguments and the price is optional
	c := setupContract(t)
	ctx := context.Background()
	seedIssued(t, c, "CC-1", "ngo-1", "100")

	out, err := c.Invoke(ctx, "TransferCredit", []string{"CC-1", "ngo-1", "buyer-1", "25", "sale", "12.5"})
	require.NoError(t, err)
	first := out.(*credit.TransferOutcome)
	require.NotNil(t, first.Transfer.Price)
	assert.Equal(t, "12.5", first.Transfer.Price.String())
	require.NotNil(t, first.Remainder)

	_, err = c.Invoke(ctx, "TransferCredit", []string{first.Remainder.ID, "ngo-1", "buyer-2", "75", "gift"})
	require.NoError(t, err)

	transfers, err := c.Query(ctx, "GetTransfersByCredit", []string{"CC-1"})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

func TestContract_Retire(t *testing.T) {
	c := setupContract(t)
	seedIssued(t, c, "CC-1", "ngo-1", "10")

	out, err := c.Invoke(context.Background(), "RetireCredit", []string{"CC-1", "ngo-1", "10", "voluntary", "Net zero 2030"})
	require.NoError(t, err)
	assert.Equal(t, credit.StatusRetired, out.(*credit.RetireOutcome).Credit.Status)
}

func TestContract_UpdateMetadataJSON(t *testing.T) {
	c := setupContract(t)
	ctx := context.Background()
	seedIssued(t, c, "CC-1", "ngo-1", "10")

	out, err := c.Invoke(ctx, "UpdateCredit", []string{"CC-1", "issued", `{"auditor":"x"}`})
	require.NoError(t, err)
	assert.Equal(t, "x", out.(*credit.CreditRecord).Metadata["auditor"])

	_, err = c.Invoke(ctx, "UpdateCredit", []string{"CC-1", "issued", `[1,2]`})
	assert.ErrorIs(t, err, credit.ErrInvalidArgument)
}

func TestContract_ArgumentErrors(t *testing.T) {
	c := setupContract(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   string
		args []string
	}{
		{"too few", "IssueCredit", nil},
		{"too many", "ReadCredit", []string{"a", "b"}},
		{"bad amount", "CreateCredit", []string{"CC-1", "P", "O", "lots", "t", "v", "m"}},
		{"bad price", "TransferCredit", []string{"CC-1", "a", "b", "1", "sale", "free"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Invoke(ctx, tt.fn, tt.args)
			assert.ErrorIs(t, err, credit.ErrInvalidArgument)
			assert.Equal(t, "invalid_argument", credit.Kind(err))
		})
	}
}

func TestContract_UnknownFunction(t *testing.T) {
	c := setupContract(t)
	_, err := c.Invoke(context.Background(), "MintCredit", nil)
	assert.ErrorIs(t, err, contract.ErrUnknownFunction)
}

func TestContract_QueryRejectsSubmitFunctions(t *testing.T) {
	c := setupContract(t)
	_, err := c.Query(context.Background(), "IssueCredit", []string{"CC-1"})
	assert.ErrorIs(t, err, contract.ErrNotEvaluate)
}

func TestContract_EmptyResultsAreEmptyArrays(t *testing.T) {
	c := setupContract(t)
	ctx := context.Background()

	for _, fn := range []string{"GetCreditsByOwner", "GetTransfersByCredit", "GetRetirementsByCredit"} {
		out, err := c.Query(ctx, fn, []string{"nobody"})
		require.NoError(t, err)
		assert.NotNil(t, out, fn)
		assert.Empty(t, out, fn)
	}
}

func TestContract_Functions(t *testing.T) {
	c := setupContract(t)
	fns := c.Functions()

	require.Len(t, fns, 16)
	assert.Equal(t, "CreateCredit", fns[0].Name)
	for _, fn := range fns {
		if fn.Name == "GetAllCredits" {
			assert.Equal(t, contract.Evaluate, fn.Mode)
		}
		if fn.Name == "TransferCredit" {
			assert.Equal(t, contract.Submit, fn.Mode)
		}
	}
}
