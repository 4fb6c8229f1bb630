/*
engine.go - Lifecycle engine

PURPOSE:
  Validates and executes every state transition of a credit record. Each
  method is one read-modify-write against the ledger Tx it is handed: it
  reads the full current record, builds full new records, and buffers the
  writes. Nothing is committed here; the caller's Store.WithTx commits the
  whole operation or none of it.

CHECK ORDER (Transfer / Retire):
  1. NotFound            record absent
  2. Unauthorized        caller owner != record owner (checked before amounts)
  3. InvalidState        status != issued
  4. InvalidArgument     amount <= 0, empty recipient
  5. InsufficientAmount  amount > record amount

FULL VS PARTIAL:
  amount == record.amount  -> the single existing record changes
  amount <  record.amount  -> Transfer: original keeps the transferred amount
                              and moves to the recipient, a new remainder key
                              keeps the rest with the old owner.
                              Retire: original amount is reduced and the
                              record becomes partially_retired.

  Equality is exact decimal equality.

SEE ALSO:
  - types.go:    State machine table
  - registry.go: Transaction boundary around these methods
*/
package credit

import (
	"context"
	"errors"

	"github.com/bluecarbon/registry/ledger"
)

// DefaultExpiryYears is the informational expiry horizon stamped at creation.
const DefaultExpiryYears = 10

// Engine holds lifecycle configuration only. It keeps no state between calls.
type Engine struct {
	ExpiryYears int
}

func NewEngine() *Engine {
	return &Engine{ExpiryYears: DefaultExpiryYears}
}

// =============================================================================
// REQUESTS / OUTCOMES
// =============================================================================

type CreateRequest struct {
	ID             string
	ProjectID      string
	OwnerID        string
	Amount         Amount
	CreditType     string
	VerificationID string
	MRVReportID    string
}

type TransferRequest struct {
	CreditID     string
	FromOwnerID  string
	ToOwnerID    string
	Amount       Amount
	TransferType string
	Price        *Amount
}

type RetireRequest struct {
	CreditID       string
	OwnerID        string
	Amount         Amount
	RetirementType string
	Purpose        string
}

// TransferOutcome is everything a transfer wrote.
type TransferOutcome struct {
	Credit    *CreditRecord   `json:"credit"`
	Remainder *CreditRecord   `json:"remainder,omitempty"` // nil on a full transfer
	Transfer  *TransferRecord `json:"transfer"`
}

// RetireOutcome is everything a retirement wrote.
type RetireOutcome struct {
	Credit     *CreditRecord     `json:"credit"`
	Retirement *RetirementRecord `json:"retirement"`
}

// =============================================================================
// CREATE / READ / EXISTS
// =============================================================================

// Create writes a new pending credit. Fails with ErrAlreadyExists if id is taken.
func (e *Engine) Create(ctx context.Context, tx ledger.Tx, req CreateRequest) (*CreditRecord, error) {
	if req.ID == "" {
		return nil, invalidArgument("credit id is required")
	}
	if req.ProjectID == "" || req.OwnerID == "" {
		return nil, invalidArgument("projectId and ownerId are required")
	}
	if req.Amount.IsNegative() {
		return nil, invalidArgument("amount must not be negative, got %s", req.Amount)
	}

	b, err := tx.Get(ctx, req.ID)
	if err != nil {
		return nil, storeError("get "+req.ID, err)
	}
	if b != nil {
		return nil, alreadyExists(req.ID)
	}

	now := tx.Now()
	credit := &CreditRecord{
		DocType:        DocTypeCredit,
		ID:             req.ID,
		ProjectID:      req.ProjectID,
		OwnerID:        req.OwnerID,
		Amount:         req.Amount,
		CreditType:     req.CreditType,
		Status:         StatusPending,
		IssuedDate:     now,
		ExpiryDate:     now.AddDate(e.expiryYears(), 0, 0),
		VerificationID: req.VerificationID,
		MRVReportID:    req.MRVReportID,
		ProvenanceHash: tx.ID(),
		Metadata:       make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := putJSON(ctx, tx, credit.ID, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// Read returns the current credit record for id. Transfer and retirement
// log entries are not credits and read as not found.
func (e *Engine) Read(ctx context.Context, tx ledger.Tx, id string) (*CreditRecord, error) {
	if id == "" {
		return nil, invalidArgument("credit id is required")
	}
	b, err := tx.Get(ctx, id)
	if err != nil {
		return nil, storeError("get "+id, err)
	}
	if b == nil {
		return nil, notFound(id)
	}
	credit, err := decodeCredit(id, b)
	if err != nil {
		return nil, err
	}
	if !credit.isCredit() {
		return nil, notFound(id)
	}
	return credit, nil
}

// Exists reports whether a credit record is stored under id.
func (e *Engine) Exists(ctx context.Context, tx ledger.Tx, id string) (bool, error) {
	_, err := e.Read(ctx, tx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// =============================================================================
// ISSUE / UPDATE / DELETE
// =============================================================================

// Issue moves a pending credit to issued and restamps its issue date.
func (e *Engine) Issue(ctx context.Context, tx ledger.Tx, id string) (*CreditRecord, error) {
	credit, err := e.Read(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := gate(credit, OpIssue); err != nil {
		return nil, err
	}

	now := tx.Now()
	credit.Status = StatusIssued
	credit.IssuedDate = now
	credit.UpdatedAt = now
	if err := putJSON(ctx, tx, credit.ID, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// Update is the administrative override. It bypasses the state machine,
// overwrites status, and replaces metadata wholesale when metadata is non-nil.
func (e *Engine) Update(ctx context.Context, tx ledger.Tx, id string, status Status, metadata map[string]any) (*CreditRecord, error) {
	if !status.Valid() {
		return nil, invalidArgument("unknown status %q", status)
	}
	credit, err := e.Read(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	credit.Status = status
	credit.UpdatedAt = tx.Now()
	if metadata != nil {
		credit.Metadata = metadata
	}
	if err := putJSON(ctx, tx, credit.ID, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// Delete removes the credit id from world state. History is kept by the ledger.
func (e *Engine) Delete(ctx context.Context, tx ledger.Tx, id string) error {
	if _, err := e.Read(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Delete(ctx, id); err != nil {
		return storeError("delete "+id, err)
	}
	return nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer moves amount of a credit from FromOwnerID to ToOwnerID.
func (e *Engine) Transfer(ctx context.Context, tx ledger.Tx, req TransferRequest) (*TransferOutcome, error) {
	credit, err := e.Read(ctx, tx, req.CreditID)
	if err != nil {
		return nil, err
	}
	if err := authorize(credit, req.FromOwnerID); err != nil {
		return nil, err
	}
	if err := gate(credit, OpTransfer); err != nil {
		return nil, err
	}
	if req.ToOwnerID == "" {
		return nil, invalidArgument("toOwnerId is required")
	}
	if err := checkAmount(credit, req.Amount); err != nil {
		return nil, err
	}

	now := tx.Now()
	transfer := &TransferRecord{
		DocType:         DocTypeTransfer,
		ID:              transferKey(tx, credit.ID),
		FromOwnerID:     req.FromOwnerID,
		ToOwnerID:       req.ToOwnerID,
		CreditID:        credit.ID,
		Amount:          req.Amount,
		TransferType:    req.TransferType,
		Price:           req.Price,
		TransactionHash: tx.ID(),
		Status:          TransferPending,
		CreatedAt:       now,
	}
	if err := putJSON(ctx, tx, transfer.ID, transfer); err != nil {
		return nil, err
	}

	outcome := &TransferOutcome{Transfer: transfer}
	if !req.Amount.Equal(credit.Amount) {
		remainder := credit.clone()
		remainder.ID = remainderKey(tx, credit.ID)
		remainder.Amount = credit.Amount.Sub(req.Amount)
		remainder.CreatedAt = now
		remainder.UpdatedAt = now
		if err := putJSON(ctx, tx, remainder.ID, &remainder); err != nil {
			return nil, err
		}
		outcome.Remainder = &remainder
		credit.Amount = req.Amount
	}
	credit.OwnerID = req.ToOwnerID
	credit.Status = StatusTransferred
	credit.UpdatedAt = now
	if err := putJSON(ctx, tx, credit.ID, credit); err != nil {
		return nil, err
	}

	outcome.Credit = credit
	return outcome, nil
}

// =============================================================================
// RETIRE
// =============================================================================

// Retire permanently removes amount of a credit from circulation.
func (e *Engine) Retire(ctx context.Context, tx ledger.Tx, req RetireRequest) (*RetireOutcome, error) {
	credit, err := e.Read(ctx, tx, req.CreditID)
	if err != nil {
		return nil, err
	}
	if err := authorize(credit, req.OwnerID); err != nil {
		return nil, err
	}
	if err := gate(credit, OpRetire); err != nil {
		return nil, err
	}
	if err := checkAmount(credit, req.Amount); err != nil {
		return nil, err
	}

	now := tx.Now()
	retirement := &RetirementRecord{
		DocType:        DocTypeRetirement,
		ID:             retirementKey(tx, credit.ID),
		CreditID:       credit.ID,
		OwnerID:        req.OwnerID,
		Amount:         req.Amount,
		RetirementType: req.RetirementType,
		Purpose:        req.Purpose,
		RetirementDate: now,
		CreatedAt:      now,
	}
	if err := putJSON(ctx, tx, retirement.ID, retirement); err != nil {
		return nil, err
	}

	if req.Amount.Equal(credit.Amount) {
		credit.Status = StatusRetired
	} else {
		credit.Amount = credit.Amount.Sub(req.Amount)
		credit.Status = StatusPartiallyRetired
	}
	credit.UpdatedAt = now
	if err := putJSON(ctx, tx, credit.ID, credit); err != nil {
		return nil, err
	}

	return &RetireOutcome{Credit: credit, Retirement: retirement}, nil
}

// =============================================================================
// GUARDS
// =============================================================================

func authorize(credit *CreditRecord, ownerID string) error {
	if credit.OwnerID != ownerID {
		return &UnauthorizedError{CreditID: credit.ID, OwnerID: ownerID}
	}
	return nil
}

func gate(credit *CreditRecord, op Operation) error {
	if !credit.Status.Allows(op) {
		return &InvalidStateError{
			CreditID:  credit.ID,
			Operation: op,
			Status:    credit.Status,
			Required:  requiredStatus[op],
		}
	}
	return nil
}

func checkAmount(credit *CreditRecord, requested Amount) error {
	if !requested.IsPositive() {
		return invalidArgument("amount must be positive, got %s", requested)
	}
	if requested.GreaterThan(credit.Amount) {
		return &InsufficientAmountError{
			CreditID:  credit.ID,
			Available: credit.Amount,
			Requested: requested,
		}
	}
	return nil
}

func (e *Engine) expiryYears() int {
	if e.ExpiryYears <= 0 {
		return DefaultExpiryYears
	}
	return e.ExpiryYears
}
