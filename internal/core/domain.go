package core

import (
	"strings"
	"time"
)

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindPortfolio   TransactionKind = "portfolio"
	KindDebtPayment TransactionKind = "debt-payment"
)

const (
	StatusApplied  TransactionStatus = "applied"
	StatusRejected TransactionStatus = "rejected"
)

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type (
	TransactionKind   string
	TransactionStatus string

	// TradeSide selects the direction of a portfolio transaction.
	TradeSide string

	// Wallet holds a user's spendable balance. One wallet per user,
	// created at registration. Balance never goes below zero.
	Wallet struct {
		OwnerID   string
		Balance   Money
		Version   int64
		UpdatedAt time.Time
	}

	// Budget tracks spending against an allotted amount for one
	// category over a period. Remaining may go negative; over-budget
	// is a reportable state, not an error.
	Budget struct {
		ID        string
		OwnerID   string
		Category  string
		Allotted  Money
		Spent     Money
		StartDate time.Time
		EndDate   time.Time
		Version   int64
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Debt is an outstanding loan balance. Payments strictly decrease
	// the outstanding amount; it never drops below zero nor exceeds
	// the principal.
	Debt struct {
		LoanID      string
		OwnerID     string
		Principal   Money
		Outstanding Money
		Rate        float64
		TermMonths  int
		Version     int64
		UpdatedAt   time.Time
	}

	// Position is a portfolio holding of one asset type. PurchasePrice
	// is the weighted average across buys.
	Position struct {
		ID            string
		OwnerID       string
		AssetType     string
		Quantity      Quantity
		PurchasePrice Money
		CurrentPrice  Money
		PurchaseDate  time.Time
		Version       int64
		UpdatedAt     time.Time
	}

	// Transaction is the immutable audit record of one ledger
	// operation. Append-only; the source of truth for budget "spent"
	// aggregation.
	Transaction struct {
		ID             string
		IdempotencyKey string
		OwnerID        string
		Kind           TransactionKind
		Status         TransactionStatus
		Amount         Money
		Category       string
		AssetType      string
		Quantity       Quantity
		LoanID         string
		OverBudget     bool
		Cause          string
		Timestamp      time.Time
	}

	// TransactionRequest is the inbound submission payload handed to
	// the orchestrator. OwnerID must match the authenticated caller.
	TransactionRequest struct {
		OwnerID        string
		Kind           TransactionKind
		Amount         Money
		Category       string
		AssetType      string
		Quantity       Quantity
		Price          Money
		Side           TradeSide
		LoanID         string
		IdempotencyKey string
	}
)

// ResolvedSide defaults an empty side to buy, the original system's
// only portfolio transaction.
func (r TransactionRequest) ResolvedSide() TradeSide {
	if r.Side == "" {
		return SideBuy
	}
	return r.Side
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindPortfolio, KindDebtPayment:
		return true
	}
	return false
}

func (w Wallet) Validate() error {
	if strings.TrimSpace(w.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if w.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if b.Allotted.IsNegative() {
		return ErrInvalidAmount
	}
	if b.Spent.IsNegative() {
		return ErrInvalidAmount
	}
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return ErrInvalidPeriod
	}
	if b.EndDate.Before(b.StartDate) {
		return ErrInvalidPeriod
	}
	return nil
}

// Covers reports whether a transaction timestamp falls inside the
// budget period (inclusive on both ends).
func (b Budget) Covers(ts time.Time) bool {
	return !ts.Before(b.StartDate) && !ts.After(b.EndDate)
}

// Remaining is allotted minus spent. Negative means over budget.
func (b Budget) Remaining() Money {
	return b.Allotted.Sub(b.Spent)
}

func (d Debt) Validate() error {
	if strings.TrimSpace(d.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if !d.Principal.IsPositive() {
		return ErrInvalidAmount
	}
	if d.Outstanding.IsNegative() || d.Outstanding.GreaterThan(d.Principal) {
		return ErrInvalidAmount
	}
	return nil
}

func (p Position) Validate() error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(p.AssetType) == "" {
		return ErrEmptyAssetType
	}
	if p.Quantity.IsNegative() {
		return ErrInvalidQuantity
	}
	return nil
}

func (r TransactionRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return ErrEmptyIdempotencyKey
	}
	switch r.Kind {
	case KindPortfolio:
		if strings.TrimSpace(r.AssetType) == "" {
			return ErrEmptyAssetType
		}
		if r.Quantity.IsZero() || r.Quantity.IsNegative() {
			return ErrInvalidQuantity
		}
		if s := r.ResolvedSide(); s != SideBuy && s != SideSell {
			return ErrInvalidKind
		}
	case KindDebtPayment:
		if strings.TrimSpace(r.LoanID) == "" {
			return ErrEmptyLoanID
		}
	}
	return nil
}
