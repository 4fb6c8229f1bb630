/*
registry.go - Transaction boundary around the engine

PURPOSE:
  Registry is what callers (contract dispatcher, CLI, tests) use. Each
  method opens exactly one ledger transaction, runs one engine or query
  call inside it, and lets the Store commit or discard the buffered writes.
  A lifecycle operation is never split across two commits, so the ledger's
  read-conflict detection covers the whole read-modify-write.

OBSERVABILITY:
  Every call is logged once (Info on success, Warn on rejection) and
  reported to the Observer with its operation name, error kind and latency.

SEE ALSO:
  - engine.go: Lifecycle rules
  - ledger/ledger.go: Store / Tx contract
  - metrics/metrics.go: Prometheus Observer
*/
package credit

import (
	"context"
	"log/slog"
	"time"

	"github.com/bluecarbon/registry/ledger"
)

// Observer receives one call per registry operation.
// kind is "" on success, otherwise the Kind of the returned error.
type Observer interface {
	ObserveOperation(operation string, kind string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}

// Registry executes registry operations, one ledger transaction each.
type Registry struct {
	store    ledger.Store
	engine   *Engine
	logger   *slog.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }
func WithObserver(o Observer) Option   { return func(r *Registry) { r.observer = o } }
func WithEngine(e *Engine) Option      { return func(r *Registry) { r.engine = e } }

func NewRegistry(store ledger.Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		engine:   NewEngine(),
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (r *Registry) CreateCredit(ctx context.Context, req CreateRequest) (*CreditRecord, error) {
	var out *CreditRecord
	err := r.run(ctx, OpCreate, req.ID, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Create(ctx, tx, req)
		return err
	})
	return out, err
}

func (r *Registry) IssueCredit(ctx context.Context, id string) (*CreditRecord, error) {
	var out *CreditRecord
	err := r.run(ctx, OpIssue, id, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Issue(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *Registry) UpdateCredit(ctx context.Context, id string, status Status, metadata map[string]any) (*CreditRecord, error) {
	var out *CreditRecord
	err := r.run(ctx, OpUpdate, id, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Update(ctx, tx, id, status, metadata)
		return err
	})
	return out, err
}

func (r *Registry) DeleteCredit(ctx context.Context, id string) error {
	return r.run(ctx, OpDelete, id, func(tx ledger.Tx) error {
		return r.engine.Delete(ctx, tx, id)
	})
}

func (r *Registry) TransferCredit(ctx context.Context, req TransferRequest) (*TransferOutcome, error) {
	var out *TransferOutcome
	err := r.run(ctx, OpTransfer, req.CreditID, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Transfer(ctx, tx, req)
		return err
	})
	return out, err
}

func (r *Registry) RetireCredit(ctx context.Context, req RetireRequest) (*RetireOutcome, error) {
	var out *RetireOutcome
	err := r.run(ctx, OpRetire, req.CreditID, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Retire(ctx, tx, req)
		return err
	})
	return out, err
}

// =============================================================================
// READS
// =============================================================================

func (r *Registry) ReadCredit(ctx context.Context, id string) (*CreditRecord, error) {
	var out *CreditRecord
	err := r.run(ctx, OpRead, id, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Read(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *Registry) CreditExists(ctx context.Context, id string) (bool, error) {
	var out bool
	err := r.run(ctx, OpRead, id, func(tx ledger.Tx) (err error) {
		out, err = r.engine.Exists(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *Registry) GetAllCredits(ctx context.Context) ([]*CreditRecord, error) {
	return r.list(ctx, "", func(tx ledger.Tx) ([]*CreditRecord, error) {
		return GetAll(ctx, tx)
	})
}

func (r *Registry) GetCreditsByOwner(ctx context.Context, ownerID string) ([]*CreditRecord, error) {
	return r.list(ctx, ownerID, func(tx ledger.Tx) ([]*CreditRecord, error) {
		return GetByOwner(ctx, tx, ownerID)
	})
}

func (r *Registry) GetCreditsByProject(ctx context.Context, projectID string) ([]*CreditRecord, error) {
	return r.list(ctx, projectID, func(tx ledger.Tx) ([]*CreditRecord, error) {
		return GetByProject(ctx, tx, projectID)
	})
}

func (r *Registry) GetCreditsByStatus(ctx context.Context, status Status) ([]*CreditRecord, error) {
	return r.list(ctx, string(status), func(tx ledger.Tx) ([]*CreditRecord, error) {
		return GetByStatus(ctx, tx, status)
	})
}

func (r *Registry) GetTotalCreditsByType(ctx context.Context, creditType string) (Amount, error) {
	var out Amount
	err := r.run(ctx, OpQuery, creditType, func(tx ledger.Tx) (err error) {
		out, err = GetTotalByType(ctx, tx, creditType)
		return err
	})
	return out, err
}

func (r *Registry) GetTransfersByCredit(ctx context.Context, creditID string) ([]*TransferRecord, error) {
	var out []*TransferRecord
	err := r.run(ctx, OpQuery, creditID, func(tx ledger.Tx) (err error) {
		out, err = GetTransfersByCredit(ctx, tx, creditID)
		return err
	})
	return out, err
}

func (r *Registry) GetRetirementsByCredit(ctx context.Context, creditID string) ([]*RetirementRecord, error) {
	var out []*RetirementRecord
	err := r.run(ctx, OpQuery, creditID, func(tx ledger.Tx) (err error) {
		out, err = GetRetirementsByCredit(ctx, tx, creditID)
		return err
	})
	return out, err
}

func (r *Registry) GetCreditHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := r.run(ctx, OpHistory, id, func(tx ledger.Tx) (err error) {
		out, err = GetHistory(ctx, tx, id)
		return err
	})
	return out, err
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

func (r *Registry) list(ctx context.Context, subject string, fn func(ledger.Tx) ([]*CreditRecord, error)) ([]*CreditRecord, error) {
	var out []*CreditRecord
	err := r.run(ctx, OpQuery, subject, func(tx ledger.Tx) (err error) {
		out, err = fn(tx)
		return err
	})
	return out, err
}

func (r *Registry) run(ctx context.Context, op Operation, subject string, fn func(ledger.Tx) error) error {
	start := time.Now()
	var txID string

	err := r.store.WithTx(ctx, func(tx ledger.Tx) error {
		txID = tx.ID()
		return fn(tx)
	})
	err = classify(string(op), err)

	elapsed := time.Since(start)
	kind := Kind(err)
	r.observer.ObserveOperation(string(op), kind, elapsed)

	attrs := []any{
		slog.String("operation", string(op)),
		slog.String("subject", subject),
		slog.String("tx_id", txID),
		slog.Duration("elapsed", elapsed),
	}
	switch {
	case err == nil && isWrite(op):
		r.logger.InfoContext(ctx, "credit operation committed", attrs...)
	case err == nil:
		r.logger.DebugContext(ctx, "credit query served", attrs...)
	case IsClientError(err) || IsNotFound(err):
		r.logger.WarnContext(ctx, "credit operation rejected", append(attrs, slog.String("kind", kind), slog.Any("error", err))...)
	default:
		r.logger.ErrorContext(ctx, "credit operation failed", append(attrs, slog.String("kind", kind), slog.Any("error", err))...)
	}
	return err
}

func isWrite(op Operation) bool {
	switch op {
	case OpCreate, OpIssue, OpUpdate, OpDelete, OpTransfer, OpRetire:
		return true
	}
	return false
}
