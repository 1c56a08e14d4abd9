// Package services holds the application services over the ledger
// store: the transaction orchestrator and the per-entity services the
// HTTP surface maps onto.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"finguard/internal/amqp"
	"finguard/internal/core"
	"finguard/internal/gateway"
	"finguard/internal/identity"
	"finguard/internal/ledger"
	applog "finguard/internal/log"
)

// Remote operations the orchestrator invokes through the gateway. The
// wallet side of a portfolio or debt transaction lives in the user
// service; these are its write endpoints.
const (
	OpWalletDebit  = "wallet.debit"
	OpWalletCredit = "wallet.credit"
)

// WalletMovement is the payload for the remote wallet operations.
type WalletMovement struct {
	OwnerID string `json:"owner_id"`
	Amount  string `json:"amount"`
}

// TransactionConfig tunes the orchestrator.
type TransactionConfig struct {
	// OverpaymentPolicy decides whether a debt payment above the
	// outstanding balance is rejected or clamped to zero.
	OverpaymentPolicy core.OverpaymentPolicy

	// CommitRetries bounds how often a conditional put is retried
	// after a version conflict before ErrConflict surfaces.
	CommitRetries int
}

func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		OverpaymentPolicy: core.OverpaymentReject,
		CommitRetries:     3,
	}
}

// TransactionResult is the outcome of a committed (or rejected)
// submission: the transaction record plus the new state of every
// entity the commit touched.
type TransactionResult struct {
	Transaction core.Transaction
	Wallet      *core.Wallet
	Budget      *core.Budget
	Debt        *core.Debt
	Position    *core.Position
	OverBudget  bool
}

// TransactionService applies financial transactions so wallet balance,
// budget tracking, debt balance and portfolio quantity stay mutually
// consistent. Local invariants are validated before anything is
// persisted, the remote leg runs before any local commit, and every
// entity write goes through a version-conditional put.
type TransactionService struct {
	store   ledger.Store
	remote  *gateway.Gateway
	events  *amqp.Client
	cfg     TransactionConfig
	now     func() time.Time
	flights singleflight.Group
}

func NewTransactionService(store ledger.Store, remote *gateway.Gateway, events *amqp.Client, cfg TransactionConfig) *TransactionService {
	if !cfg.OverpaymentPolicy.Valid() {
		cfg.OverpaymentPolicy = core.OverpaymentReject
	}
	if cfg.CommitRetries <= 0 {
		cfg.CommitRetries = 3
	}
	return &TransactionService{
		store:  store,
		remote: remote,
		events: events,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Submit applies one transaction request on behalf of the authenticated
// principal. Exactly one ledger write per affected entity and one
// transaction append happen per idempotency key, regardless of retries.
func (s *TransactionService) Submit(ctx context.Context, principal identity.Principal, req core.TransactionRequest) (TransactionResult, error) {
	if err := req.Validate(); err != nil {
		return TransactionResult{}, err
	}
	if req.OwnerID != principal.UserID {
		slog.WarnContext(ctx, "Cross-user transaction rejected",
			"caller", principal.UserID,
			"owner", req.OwnerID)
		return TransactionResult{}, core.ErrUnauthorized
	}

	// Submissions sharing an idempotency key are serialized: concurrent
	// callers join the in-flight execution and share its outcome, so the
	// replay check and the entity writes behave as one atomic step.
	v, err, _ := s.flights.Do(req.IdempotencyKey, func() (any, error) {
		return s.submitKeyed(ctx, req)
	})
	if err != nil {
		return TransactionResult{}, err
	}
	return v.(TransactionResult), nil
}

// submitKeyed runs the per-key critical section: replay lookup,
// invariant checks and the entity commits.
func (s *TransactionService) submitKeyed(ctx context.Context, req core.TransactionRequest) (TransactionResult, error) {
	// A replayed key returns the original outcome without touching any
	// entity.
	if prior, ok, err := s.store.TransactionByKey(ctx, req.IdempotencyKey); err != nil {
		return TransactionResult{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if ok {
		slog.InfoContext(ctx, "Replayed submission served from the transaction log",
			"idempotency_key", req.IdempotencyKey,
			applog.FieldTxnID, prior.ID)
		return TransactionResult{Transaction: prior, OverBudget: prior.OverBudget}, nil
	}

	slog.InfoContext(ctx, "Processing transaction",
		applog.FieldOwnerID, req.OwnerID,
		applog.FieldTxnKind, req.Kind,
		applog.FieldAmount, req.Amount.String())

	var (
		result TransactionResult
		err    error
	)
	switch req.Kind {
	case core.KindDeposit:
		result, err = s.applyWalletTransaction(ctx, req, req.Amount)
	case core.KindWithdrawal:
		result, err = s.applyWalletTransaction(ctx, req, req.Amount.Neg())
	case core.KindDebtPayment:
		result, err = s.applyDebtPayment(ctx, req)
	case core.KindPortfolio:
		result, err = s.applyPortfolioTrade(ctx, req)
	default:
		return TransactionResult{}, core.ErrInvalidKind
	}
	if err != nil {
		return TransactionResult{}, err
	}
	return result, nil
}

// applyWalletTransaction handles deposits and withdrawals: the wallet
// is the primary entity, with an optional budget leg for categorized
// withdrawals.
func (s *TransactionService) applyWalletTransaction(ctx context.Context, req core.TransactionRequest, delta core.Money) (TransactionResult, error) {
	var committed core.Wallet
	var budget *core.Budget
	overBudget := false

	commit := func(ctx context.Context) error {
		rec, err := s.store.Get(ctx, ledger.KindWallet, req.OwnerID)
		if err != nil {
			return fmt.Errorf("user profile not found with id: %s: %w", req.OwnerID, core.ErrNotFound)
		}
		wallet := rec.(ledger.WalletRecord).Wallet

		next, err := core.ApplyWalletDelta(wallet, delta)
		if err != nil {
			return err
		}
		if err := s.store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: next}, wallet.Version); err != nil {
			return err
		}
		committed = next
		committed.Version = wallet.Version + 1
		return nil
	}

	if err := s.withCommitRetries(ctx, commit); err != nil {
		return s.reject(ctx, req, err)
	}

	// Budget leg: withdrawals tagged with a category also advance the
	// matching budget's spent total. Spending is never blocked here.
	if req.Kind == core.KindWithdrawal && strings.TrimSpace(req.Category) != "" {
		b, over, err := s.commitBudgetSpend(ctx, req.OwnerID, req.Category, req.Amount)
		switch {
		case err == nil:
			budget = b
			overBudget = over
		case errors.Is(err, core.ErrNotFound):
			// Spending in a category without a budget is fine; there
			// is just nothing to track against.
			slog.DebugContext(ctx, "No budget for category",
				applog.FieldOwnerID, req.OwnerID,
				applog.FieldCategory, req.Category)
		default:
			// The wallet write is already committed; the budget total
			// will be healed by report-time aggregation over the log.
			slog.ErrorContext(ctx, "Budget tracking update failed after wallet commit",
				applog.FieldOwnerID, req.OwnerID,
				applog.FieldCategory, req.Category,
				applog.FieldError, err)
		}
	}

	txn, err := s.append(ctx, req, core.StatusApplied, overBudget, "")
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{Transaction: txn, Wallet: &committed, Budget: budget, OverBudget: overBudget}, nil
}

// applyDebtPayment validates the local debt invariant, debits the
// remote wallet through the gateway, and only then commits the debt.
func (s *TransactionService) applyDebtPayment(ctx context.Context, req core.TransactionRequest) (TransactionResult, error) {
	rec, err := s.store.Get(ctx, ledger.KindDebt, req.LoanID)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("debt not found with ID: %s: %w", req.LoanID, core.ErrNotFound)
	}
	debt := rec.(ledger.DebtRecord).Debt
	if debt.OwnerID != req.OwnerID {
		return TransactionResult{}, core.ErrUnauthorized
	}

	// Pre-flight invariant check before the remote leg runs.
	if _, err := core.ApplyDebtPayment(debt, req.Amount, s.cfg.OverpaymentPolicy); err != nil {
		return s.reject(ctx, req, err)
	}

	if err := s.remoteWalletMove(ctx, OpWalletDebit, req.OwnerID, req.Amount); err != nil {
		return s.reject(ctx, req, err)
	}

	var committed core.Debt
	commit := func(ctx context.Context) error {
		rec, err := s.store.Get(ctx, ledger.KindDebt, req.LoanID)
		if err != nil {
			return fmt.Errorf("debt not found with ID: %s: %w", req.LoanID, core.ErrNotFound)
		}
		current := rec.(ledger.DebtRecord).Debt
		next, err := core.ApplyDebtPayment(current, req.Amount, s.cfg.OverpaymentPolicy)
		if err != nil {
			return err
		}
		if err := s.store.PutIfVersion(ctx, ledger.DebtRecord{Debt: next}, current.Version); err != nil {
			return err
		}
		committed = next
		committed.Version = current.Version + 1
		return nil
	}

	if err := s.withCommitRetries(ctx, commit); err != nil {
		// The wallet debit already happened in the user service; this
		// split must be reconciled, not swallowed.
		slog.ErrorContext(ctx, "Reconciliation candidate: remote wallet debit committed but local debt update failed",
			applog.FieldLoanID, req.LoanID,
			applog.FieldOwnerID, req.OwnerID,
			applog.FieldAmount, req.Amount.String(),
			applog.FieldError, err)
		return s.reject(ctx, req, err)
	}

	txn, err := s.append(ctx, req, core.StatusApplied, false, "")
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{Transaction: txn, Debt: &committed}, nil
}

// applyPortfolioTrade handles buys and sells. The wallet movement lives
// in the user service and runs through the gateway BEFORE the local
// position commit, so a failed remote leg leaves the position
// untouched.
func (s *TransactionService) applyPortfolioTrade(ctx context.Context, req core.TransactionRequest) (TransactionResult, error) {
	side := req.ResolvedSide()

	position, found, err := s.findPosition(ctx, req.OwnerID, req.AssetType)
	if err != nil {
		return TransactionResult{}, err
	}
	if side == core.SideSell && !found {
		return TransactionResult{}, fmt.Errorf("portfolio not found with ID: %s/%s: %w", req.OwnerID, req.AssetType, core.ErrNotFound)
	}

	// Pre-flight invariant check before any money moves.
	price := s.unitPrice(req)
	if side == core.SideBuy {
		if _, err := core.ApplyBuy(position, req.Quantity, price); err != nil {
			return s.reject(ctx, req, err)
		}
	} else {
		if _, err := core.ApplySell(position, req.Quantity); err != nil {
			return s.reject(ctx, req, err)
		}
	}

	walletOp := OpWalletDebit
	if side == core.SideSell {
		walletOp = OpWalletCredit
	}
	if err := s.remoteWalletMove(ctx, walletOp, req.OwnerID, req.Amount); err != nil {
		return s.reject(ctx, req, err)
	}

	var committed core.Position
	commit := func(ctx context.Context) error {
		current, found, err := s.findPosition(ctx, req.OwnerID, req.AssetType)
		if err != nil {
			return err
		}
		if side == core.SideSell && !found {
			return fmt.Errorf("portfolio not found with ID: %s/%s: %w", req.OwnerID, req.AssetType, core.ErrNotFound)
		}

		var next core.Position
		if side == core.SideBuy {
			next, err = core.ApplyBuy(current, req.Quantity, price)
		} else {
			next, err = core.ApplySell(current, req.Quantity)
		}
		if err != nil {
			return err
		}
		if err := s.store.PutIfVersion(ctx, ledger.PositionRecord{Position: next}, current.Version); err != nil {
			return err
		}
		committed = next
		committed.Version = current.Version + 1
		return nil
	}

	if err := s.withCommitRetries(ctx, commit); err != nil {
		slog.ErrorContext(ctx, "Reconciliation candidate: remote wallet movement committed but local position update failed",
			applog.FieldOwnerID, req.OwnerID,
			applog.FieldAssetType, req.AssetType,
			applog.FieldAmount, req.Amount.String(),
			applog.FieldError, err)
		return s.reject(ctx, req, err)
	}

	txn, err := s.append(ctx, req, core.StatusApplied, false, "")
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{Transaction: txn, Position: &committed}, nil
}

// findPosition resolves the owner's position for one asset type. A buy
// against a missing position starts a fresh one.
func (s *TransactionService) findPosition(ctx context.Context, ownerID, assetType string) (core.Position, bool, error) {
	records, err := s.store.GetByOwner(ctx, ledger.KindPosition, ownerID)
	if err != nil {
		return core.Position{}, false, err
	}
	for _, rec := range records {
		p := rec.(ledger.PositionRecord).Position
		if p.AssetType == assetType {
			return p, true, nil
		}
	}
	return core.Position{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		AssetType:    assetType,
		Quantity:     core.MustQuantity("0"),
		PurchaseDate: s.now(),
	}, false, nil
}

// unitPrice derives the per-unit price from the request. An explicit
// price wins; otherwise amount over quantity.
func (s *TransactionService) unitPrice(req core.TransactionRequest) core.Money {
	if req.Price.IsPositive() {
		return req.Price
	}
	return req.Amount.DivQuantity(req.Quantity)
}

// remoteWalletMove runs the cross-service wallet leg. An unavailable
// write maps to ErrRemoteUnavailable, never to silent success.
func (s *TransactionService) remoteWalletMove(ctx context.Context, op, ownerID string, amount core.Money) error {
	if s.remote == nil {
		return fmt.Errorf("%s: no remote participant configured: %w", op, core.ErrRemoteUnavailable)
	}
	_, err := s.remote.Call(ctx, op, WalletMovement{OwnerID: ownerID, Amount: amount.String()})
	return err
}

// commitBudgetSpend advances the spent total of the owner's budget for
// the category covering now. No matching budget is reported as
// ErrNotFound; callers decide whether that matters.
func (s *TransactionService) commitBudgetSpend(ctx context.Context, ownerID, category string, amount core.Money) (*core.Budget, bool, error) {
	var committed core.Budget
	over := false

	commit := func(ctx context.Context) error {
		records, err := s.store.GetByOwner(ctx, ledger.KindBudget, ownerID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, rec := range records {
			b := rec.(ledger.BudgetRecord).Budget
			if b.Category != category || !b.Covers(now) {
				continue
			}
			next, flagged := core.ApplyBudgetSpend(b, amount)
			if err := s.store.PutIfVersion(ctx, ledger.BudgetRecord{Budget: next}, b.Version); err != nil {
				return err
			}
			committed = next
			committed.Version = b.Version + 1
			over = flagged
			return nil
		}
		return fmt.Errorf("no budget found for category %s: %w", category, core.ErrNotFound)
	}

	if err := s.withCommitRetries(ctx, commit); err != nil {
		return nil, false, err
	}
	if over {
		slog.WarnContext(ctx, "Budget exceeded",
			applog.FieldOwnerID, ownerID,
			applog.FieldCategory, category,
			"spent", committed.Spent.String(),
			"allotted", committed.Allotted.String())
	}
	return &committed, over, nil
}

// withCommitRetries re-runs a read-validate-put cycle after version
// conflicts. Each attempt re-reads current state, so a retried delta is
// validated against what actually committed in between.
func (s *TransactionService) withCommitRetries(ctx context.Context, commit func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		err = commit(ctx)
		if err == nil || !errors.Is(err, core.ErrVersionConflict) {
			return err
		}
		slog.DebugContext(ctx, "Conditional put lost, retrying",
			"attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", core.ErrConflict, err)
}

// reject appends the rejected transaction record for an invariant or
// remote failure and returns the typed cause. No entity state was
// committed by the failed path.
func (s *TransactionService) reject(ctx context.Context, req core.TransactionRequest, cause error) (TransactionResult, error) {
	txn, appendErr := s.append(ctx, req, core.StatusRejected, false, cause.Error())
	if appendErr != nil {
		slog.ErrorContext(ctx, "Failed to record rejected transaction",
			"idempotency_key", req.IdempotencyKey,
			applog.FieldError, appendErr)
		return TransactionResult{}, cause
	}
	return TransactionResult{Transaction: txn}, cause
}

// append writes the immutable transaction record and publishes the
// event. In-process submissions are serialized per key before reaching
// this point, so a duplicate here means another process raced the same
// key; the store keeps the first record and we log the collision. Event
// publication is best effort; the ledger write already succeeded.
func (s *TransactionService) append(ctx context.Context, req core.TransactionRequest, status core.TransactionStatus, overBudget bool, cause string) (core.Transaction, error) {
	txn := core.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		OwnerID:        req.OwnerID,
		Kind:           req.Kind,
		Status:         status,
		Amount:         req.Amount,
		Category:       req.Category,
		AssetType:      req.AssetType,
		Quantity:       req.Quantity,
		LoanID:         req.LoanID,
		OverBudget:     overBudget,
		Cause:          cause,
		Timestamp:      s.now(),
	}

	stored, err := s.store.AppendTransaction(ctx, txn)
	if errors.Is(err, core.ErrDuplicateSubmission) {
		slog.WarnContext(ctx, "Idempotency key already recorded by another writer, keeping the first record",
			applog.FieldTxnID, stored.ID,
			"idempotency_key", txn.IdempotencyKey)
	} else if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishTransactionEvent(ctx, amqp.NewTransactionEvent(stored)); err != nil {
			slog.ErrorContext(ctx, "Failed to publish transaction event",
				applog.FieldTxnID, stored.ID,
				applog.FieldError, err)
			// Don't fail the request - the transaction is committed.
		}
	}

	return stored, nil
}

// Get returns one transaction record, owner-checked.
func (s *TransactionService) Get(ctx context.Context, principal identity.Principal, id string) (core.Transaction, error) {
	txn, err := s.store.Transaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction not found with ID: %s: %w", id, core.ErrNotFound)
	}
	if txn.OwnerID != principal.UserID {
		return core.Transaction{}, core.ErrUnauthorized
	}
	return txn, nil
}

// ListByOwner returns the caller's transaction records in commit order.
func (s *TransactionService) ListByOwner(ctx context.Context, principal identity.Principal, ownerID string) ([]core.Transaction, error) {
	if ownerID != principal.UserID {
		return nil, core.ErrUnauthorized
	}
	return s.store.TransactionsByOwner(ctx, ownerID)
}
