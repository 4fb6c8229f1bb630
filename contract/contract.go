/*
contract.go - Function-name dispatcher over the credit registry

PURPOSE:
  Exposes the registry the way ledger clients already call it: a function
  name plus positional string arguments, e.g.

    TransferCredit ["CC-1", "ngo-1", "buyer-1", "25", "sale", "100"]

  Arguments are decoded here (amounts, statuses, metadata JSON) and the
  call is forwarded to credit.Registry. Transport adapters (HTTP, CLI) only
  move names, strings and results around.

SUBMIT vs EVALUATE:
  Submit functions write to the ledger. Evaluate functions only read.
  Invoke accepts both (a submitted read still runs in one transaction);
  Query rejects submit functions with ErrNotEvaluate.

SEE ALSO:
  - credit/registry.go: Operations being dispatched
  - api/handlers.go: POST /invoke, POST /query
*/
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bluecarbon/registry/credit"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrNotEvaluate     = errors.New("function writes to the ledger and must be invoked")
)

// Mode says whether a function writes.
type Mode string

const (
	Submit   Mode = "submit"
	Evaluate Mode = "evaluate"
)

// Function describes one dispatchable function.
type Function struct {
	Name    string   `json:"name"`
	Mode    Mode     `json:"mode"`
	Params  []string `json:"params"`
	MinArgs int      `json:"-"`

	call func(ctx context.Context, args []string) (any, error)
}

// Contract dispatches named calls to a Registry.
type Contract struct {
	registry  *credit.Registry
	functions map[string]*Function
}

func New(registry *credit.Registry) *Contract {
	c := &Contract{registry: registry, functions: make(map[string]*Function)}
	c.register()
	return c
}

// Invoke runs any function by name.
func (c *Contract) Invoke(ctx context.Context, name string, args []string) (any, error) {
	fn, err := c.lookup(name, args)
	if err != nil {
		return nil, err
	}
	return fn.call(ctx, args)
}

// Query runs an evaluate function by name.
func (c *Contract) Query(ctx context.Context, name string, args []string) (any, error) {
	fn, err := c.lookup(name, args)
	if err != nil {
		return nil, err
	}
	if fn.Mode != Evaluate {
		return nil, fmt.Errorf("%s: %w", name, ErrNotEvaluate)
	}
	return fn.call(ctx, args)
}

// Functions lists the dispatch table sorted by name.
func (c *Contract) Functions() []Function {
	out := make([]Function, 0, len(c.functions))
	for _, fn := range c.functions {
		out = append(out, *fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Contract) lookup(name string, args []string) (*Function, error) {
	fn, ok := c.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	if len(args) < fn.MinArgs || len(args) > len(fn.Params) {
		return nil, fmt.Errorf("%w: %s expects %s", credit.ErrInvalidArgument, name, arity(fn))
	}
	return fn, nil
}

func arity(fn *Function) string {
	if fn.MinArgs == len(fn.Params) {
		return fmt.Sprintf("%d arguments %v", len(fn.Params), fn.Params)
	}
	return fmt.Sprintf("%d to %d arguments %v", fn.MinArgs, len(fn.Params), fn.Params)
}

func (c *Contract) add(name string, mode Mode, params []string, minArgs int, call func(context.Context, []string) (any, error)) {
	c.functions[name] = &Function{Name: name, Mode: mode, Params: params, MinArgs: minArgs, call: call}
}

// =============================================================================
// DISPATCH TABLE
// =============================================================================

func (c *Contract) register() {
	r := c.registry

	c.add("CreateCredit", Submit,
		[]string{"creditId", "projectId", "ownerId", "amount", "creditType", "verificationId", "mrvReportId"}, 7,
		func(ctx context.Context, a []string) (any, error) {
			amount, err := parseAmount("amount", a[3])
			if err != nil {
				return nil, err
			}
			return r.CreateCredit(ctx, credit.CreateRequest{
				ID:             a[0],
				ProjectID:      a[1],
				OwnerID:        a[2],
				Amount:         amount,
				CreditType:     a[4],
				VerificationID: a[5],
				MRVReportID:    a[6],
			})
		})

	c.add("IssueCredit", Submit, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return r.IssueCredit(ctx, a[0])
		})

	c.add("UpdateCredit", Submit, []string{"creditId", "status", "metadata"}, 2,
		func(ctx context.Context, a []string) (any, error) {
			var metadata map[string]any
			if len(a) > 2 && a[2] != "" {
				if err := json.Unmarshal([]byte(a[2]), &metadata); err != nil {
					return nil, fmt.Errorf("%w: metadata must be a JSON object: %v", credit.ErrInvalidArgument, err)
				}
			}
			return r.UpdateCredit(ctx, a[0], credit.Status(a[1]), metadata)
		})

	c.add("DeleteCredit", Submit, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return nil, r.DeleteCredit(ctx, a[0])
		})

	c.add("TransferCredit", Submit,
		[]string{"creditId", "fromOwnerId", "toOwnerId", "amount", "transferType", "price"}, 5,
		func(ctx context.Context, a []string) (any, error) {
			amount, err := parseAmount("amount", a[3])
			if err != nil {
				return nil, err
			}
			req := credit.TransferRequest{
				CreditID:     a[0],
				FromOwnerID:  a[1],
				ToOwnerID:    a[2],
				Amount:       amount,
				TransferType: a[4],
			}
			if len(a) > 5 && a[5] != "" {
				price, err := parseAmount("price", a[5])
				if err != nil {
					return nil, err
				}
				req.Price = &price
			}
			return r.TransferCredit(ctx, req)
		})

	c.add("RetireCredit", Submit,
		[]string{"creditId", "ownerId", "amount", "retirementType", "purpose"}, 5,
		func(ctx context.Context, a []string) (any, error) {
			amount, err := parseAmount("amount", a[2])
			if err != nil {
				return nil, err
			}
			return r.RetireCredit(ctx, credit.RetireRequest{
				CreditID:       a[0],
				OwnerID:        a[1],
				Amount:         amount,
				RetirementType: a[3],
				Purpose:        a[4],
			})
		})

	c.add("ReadCredit", Evaluate, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return r.ReadCredit(ctx, a[0])
		})

	c.add("CreditExists", Evaluate, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return r.CreditExists(ctx, a[0])
		})

	c.add("GetAllCredits", Evaluate, nil, 0,
		func(ctx context.Context, _ []string) (any, error) {
			return nonNil(r.GetAllCredits(ctx))
		})

	c.add("GetCreditsByOwner", Evaluate, []string{"ownerId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return nonNil(r.GetCreditsByOwner(ctx, a[0]))
		})

	c.add("GetCreditsByProject", Evaluate, []string{"projectId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return nonNil(r.GetCreditsByProject(ctx, a[0]))
		})

	c.add("GetCreditsByStatus", Evaluate, []string{"status"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return nonNil(r.GetCreditsByStatus(ctx, credit.Status(a[0])))
		})

	c.add("GetTotalCreditsByType", Evaluate, []string{"creditType"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return r.GetTotalCreditsByType(ctx, a[0])
		})

	c.add("GetCreditHistory", Evaluate, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			return r.GetCreditHistory(ctx, a[0])
		})

	c.add("GetTransfersByCredit", Evaluate, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			out, err := r.GetTransfersByCredit(ctx, a[0])
			if out == nil && err == nil {
				out = []*credit.TransferRecord{}
			}
			return out, err
		})

	c.add("GetRetirementsByCredit", Evaluate, []string{"creditId"}, 1,
		func(ctx context.Context, a []string) (any, error) {
			out, err := r.GetRetirementsByCredit(ctx, a[0])
			if out == nil && err == nil {
				out = []*credit.RetirementRecord{}
			}
			return out, err
		})
}

func parseAmount(field, s string) (credit.Amount, error) {
	amount, err := credit.ParseAmount(s)
	if err != nil {
		return credit.Amount{}, fmt.Errorf("%w: %s %q is not a number", credit.ErrInvalidArgument, field, s)
	}
	return amount, nil
}

// nonNil renders an empty result set as [] rather than null.
func nonNil(records []*credit.CreditRecord, err error) (any, error) {
	if records == nil && err == nil {
		records = []*credit.CreditRecord{}
	}
	return records, err
}
