/*
Package credit implements the carbon-credit registry core.

PURPOSE:
  A credit record is one traceable lot of carbon-offset units. This package
  owns the record model, the lifecycle state machine that decides which
  transitions are legal, the read-only query projections, and the audit
  history reconstruction. Persistence and isolation are delegated to a
  ledger.Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status:           Lifecycle state of a credit record
  - Operation:        Named lifecycle/query operation (also a metrics label)
  - Amount:           Fixed-point quantity, serialized as a bare JSON number
  - CreditRecord:     One traceable lot of credits
  - TransferRecord:   Immutable log entry of one transfer
  - RetirementRecord: Immutable log entry of one retirement

STATE MACHINE:
  pending --Issue--> issued
  issued  --Transfer (full)-->    transferred
  issued  --Transfer (partial)--> transferred + new remainder record (issued)
  issued  --Retire (full)-->      retired
  issued  --Retire (partial)-->   partially_retired (amount reduced)

  Only issued records can be transferred or retired. A transferred or
  partially retired record can only move again through the administrative
  Update override.

WIRE FORMAT:
  Records are flat JSON objects. Field names match the existing deployment,
  including "type" for the credit type and "blockchainHash" for the
  provenance marker. Every document carries "docType" so credits, transfers
  and retirements can share one keyspace.

SEE ALSO:
  - engine.go:   Lifecycle operations
  - query.go:    Query layer
  - history.go:  Audit history
  - registry.go: One ledger transaction per operation
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Lifecycle state
// =============================================================================

type Status string

const (
	StatusPending          Status = "pending"
	StatusIssued           Status = "issued"
	StatusTransferred      Status = "transferred"
	StatusPartiallyRetired Status = "partially_retired"
	StatusRetired          Status = "retired"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusIssued, StatusTransferred, StatusPartiallyRetired, StatusRetired:
		return true
	}
	return false
}

// =============================================================================
// OPERATION - Named operations
// =============================================================================

type Operation string

const (
	OpCreate   Operation = "create"
	OpIssue    Operation = "issue"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpTransfer Operation = "transfer"
	OpRetire   Operation = "retire"
	OpRead     Operation = "read"
	OpQuery    Operation = "query"
	OpHistory  Operation = "history"
)

// requiredStatus lists the only state each gated operation may start from.
// Create, Update, Delete and reads are not gated.
var requiredStatus = map[Operation]Status{
	OpIssue:    StatusPending,
	OpTransfer: StatusIssued,
	OpRetire:   StatusIssued,
}

// Allows reports whether op may be applied to a record in state s.
func (s Status) Allows(op Operation) bool {
	required, gated := requiredStatus[op]
	return !gated || s == required
}

// =============================================================================
// AMOUNT - Fixed-point quantity
// =============================================================================

// Amount is a non-negative credit quantity. Comparisons are exact: there is
// no epsilon, so only an amount equal to the full balance takes a "full" path.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount { return Amount{Value: decimal.NewFromFloat(value)} }

// ParseAmount parses a decimal string such as "25" or "12.5".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) String() string            { return a.Value.String() }

// MarshalJSON writes the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Value.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		a.Value = decimal.Zero
		return nil
	}
	return a.Value.UnmarshalJSON(b)
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

const (
	DocTypeCredit     = "credit"
	DocTypeTransfer   = "transfer"
	DocTypeRetirement = "retirement"
)

// =============================================================================
// CREDIT RECORD
// =============================================================================

type CreditRecord struct {
	DocType        string         `json:"docType"`
	ID             string         `json:"id"`
	ProjectID      string         `json:"projectId"`
	OwnerID        string         `json:"ownerId"`
	Amount         Amount         `json:"amount"`
	CreditType     string         `json:"type"` // blue_carbon, mangrove, seagrass, ...
	Status         Status         `json:"status"`
	IssuedDate     time.Time      `json:"issuedDate"`
	ExpiryDate     time.Time      `json:"expiryDate"` // informational, never enforced
	VerificationID string         `json:"verificationId"`
	MRVReportID    string         `json:"mrvReportId"`
	ProvenanceHash string         `json:"blockchainHash"` // id of the creating transaction
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (c CreditRecord) isCredit() bool {
	return c.DocType == DocTypeCredit
}

// clone returns a copy that shares no metadata map with c.
func (c CreditRecord) clone() CreditRecord {
	if c.Metadata != nil {
		m := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			m[k] = v
		}
		c.Metadata = m
	}
	return c
}

// =============================================================================
// TRANSFER RECORD - write-once log entry
// =============================================================================

type TransferStatus string

const (
	// TransferPending is the only status ever written. Settlement that would
	// advance it to completed/failed lives outside the registry.
	TransferPending TransferStatus = "pending"
)

type TransferRecord struct {
	DocType         string         `json:"docType"`
	ID              string         `json:"id"`
	FromOwnerID     string         `json:"fromOwnerId"`
	ToOwnerID       string         `json:"toOwnerId"`
	CreditID        string         `json:"creditId"`
	Amount          Amount         `json:"amount"`
	TransferType    string         `json:"transferType"` // sale, donation, ...
	Price           *Amount        `json:"price,omitempty"`
	TransactionHash string         `json:"transactionHash"`
	Status          TransferStatus `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// =============================================================================
// RETIREMENT RECORD - write-once log entry
// =============================================================================

type RetirementRecord struct {
	DocType        string    `json:"docType"`
	ID             string    `json:"id"`
	CreditID       string    `json:"creditId"`
	OwnerID        string    `json:"ownerId"`
	Amount         Amount    `json:"amount"`
	RetirementType string    `json:"retirementType"` // voluntary, compliance
	Purpose        string    `json:"purpose"`
	CertificateURL string    `json:"certificateUrl,omitempty"`
	RetirementDate time.Time `json:"retirementDate"`
	CreatedAt      time.Time `json:"createdAt"`
}

// =============================================================================
// HISTORY ENTRY
// =============================================================================

// HistoryEntry is one committed revision of a credit key.
type HistoryEntry struct {
	TxID      string       `json:"txId"`
	Timestamp time.Time    `json:"timestamp"`
	IsDelete  bool         `json:"isDelete"`
	Value     CreditRecord `json:"value"` // zero value when IsDelete
}
