// Package ledger defines the durable store contract shared by every
// entity the transaction orchestrator mutates, plus the append-only
// transaction log.
package ledger

import (
	"context"
	"time"

	"finguard/internal/core"
)

// Kind identifies the entity table a record belongs to.
type Kind string

const (
	KindWallet   Kind = "wallet"
	KindBudget   Kind = "budget"
	KindDebt     Kind = "debt"
	KindPosition Kind = "position"
)

// Entity is any record the store can hold. Version backs the
// conditional put; a put only succeeds when the caller read the version
// it is replacing.
type Entity interface {
	EntityID() string
	EntityOwner() string
	EntityKind() Kind
	EntityVersion() int64
}

// Store is the ledger storage contract. Entity rows are mutated only
// through PutIfVersion; transactions are append-only and deduplicated
// by idempotency key.
type Store interface {
	Get(ctx context.Context, kind Kind, id string) (Entity, error)
	GetByOwner(ctx context.Context, kind Kind, ownerID string) ([]Entity, error)
	Exists(ctx context.Context, kind Kind, id string) (bool, error)

	// PutIfVersion writes the entity only when the stored version still
	// matches expectedVersion (0 for a new record). On success the
	// stored version is expectedVersion+1. A stale caller gets
	// core.ErrVersionConflict.
	PutIfVersion(ctx context.Context, e Entity, expectedVersion int64) error

	Delete(ctx context.Context, kind Kind, id string) error

	// AppendTransaction records an immutable transaction. A second
	// append with the same idempotency key leaves the log unchanged and
	// returns the original record with core.ErrDuplicateSubmission.
	AppendTransaction(ctx context.Context, txn core.Transaction) (core.Transaction, error)

	Transaction(ctx context.Context, id string) (core.Transaction, error)
	TransactionByKey(ctx context.Context, idempotencyKey string) (core.Transaction, bool, error)

	// TransactionsByOwner returns the owner's records in commit order.
	TransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error)

	Close() error
}

// Stamp returns a copy of the entity with the committed version and
// update time set. Store implementations call it on every successful
// conditional put.
func Stamp(e Entity, version int64, now time.Time) Entity {
	switch r := e.(type) {
	case WalletRecord:
		r.Wallet.Version = version
		r.Wallet.UpdatedAt = now
		return r
	case BudgetRecord:
		r.Budget.Version = version
		r.Budget.UpdatedAt = now
		return r
	case DebtRecord:
		r.Debt.Version = version
		r.Debt.UpdatedAt = now
		return r
	case PositionRecord:
		r.Position.Version = version
		r.Position.UpdatedAt = now
		return r
	default:
		return e
	}
}

// Adapter records so the core types satisfy Entity without the core
// package knowing about storage.

type WalletRecord struct{ core.Wallet }

func (r WalletRecord) EntityID() string     { return r.OwnerID }
func (r WalletRecord) EntityOwner() string  { return r.OwnerID }
func (r WalletRecord) EntityKind() Kind     { return KindWallet }
func (r WalletRecord) EntityVersion() int64 { return r.Version }

type BudgetRecord struct{ core.Budget }

func (r BudgetRecord) EntityID() string     { return r.ID }
func (r BudgetRecord) EntityOwner() string  { return r.OwnerID }
func (r BudgetRecord) EntityKind() Kind     { return KindBudget }
func (r BudgetRecord) EntityVersion() int64 { return r.Version }

type DebtRecord struct{ core.Debt }

func (r DebtRecord) EntityID() string     { return r.LoanID }
func (r DebtRecord) EntityOwner() string  { return r.OwnerID }
func (r DebtRecord) EntityKind() Kind     { return KindDebt }
func (r DebtRecord) EntityVersion() int64 { return r.Version }

type PositionRecord struct{ core.Position }

func (r PositionRecord) EntityID() string     { return r.ID }
func (r PositionRecord) EntityOwner() string  { return r.OwnerID }
func (r PositionRecord) EntityKind() Kind     { return KindPosition }
func (r PositionRecord) EntityVersion() int64 { return r.Version }
