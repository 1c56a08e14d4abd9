package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"finguard/internal/core"
	"finguard/internal/identity"
	"finguard/internal/ledger"
	applog "finguard/internal/log"
)

// BudgetReportRow is one budget's standing over its period, with the
// spent total recomputed from the committed transaction log rather than
// the cached counter.
type BudgetReportRow struct {
	Budget     core.Budget
	Spent      core.Money
	Remaining  core.Money
	OverBudget bool
}

// BudgetService manages category budgets and their reporting. The
// transaction log is the source of truth for spent aggregation; the
// counter on the entity is a fast path the report verifies against.
type BudgetService struct {
	store ledger.Store
	now   func() time.Time
}

func NewBudgetService(store ledger.Store) *BudgetService {
	return &BudgetService{store: store, now: time.Now}
}

// Create registers a new budget with a zero spent counter.
func (s *BudgetService) Create(ctx context.Context, principal identity.Principal, b core.Budget) (core.Budget, error) {
	if b.OwnerID != principal.UserID {
		return core.Budget{}, core.ErrUnauthorized
	}
	b.ID = uuid.NewString()
	b.Spent = core.MustMoney("0")
	b.CreatedAt = s.now()
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	if err := s.store.PutIfVersion(ctx, ledger.BudgetRecord{Budget: b}, 0); err != nil {
		return core.Budget{}, fmt.Errorf("failed to create budget for user with ID: %s: %w", b.OwnerID, err)
	}
	b.Version = 1

	slog.InfoContext(ctx, "Budget created",
		"budget_id", b.ID,
		applog.FieldOwnerID, b.OwnerID,
		applog.FieldCategory, b.Category,
		"allotted", b.Allotted.String())
	return b, nil
}

func (s *BudgetService) Get(ctx context.Context, principal identity.Principal, budgetID string) (core.Budget, error) {
	rec, err := s.store.Get(ctx, ledger.KindBudget, budgetID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget ID not found: %s: %w", budgetID, core.ErrNotFound)
	}
	b := rec.(ledger.BudgetRecord).Budget
	if b.OwnerID != principal.UserID {
		return core.Budget{}, core.ErrUnauthorized
	}
	return b, nil
}

// Update replaces the budget's allotted amount, category and period.
// The spent counter is never writable from outside.
func (s *BudgetService) Update(ctx context.Context, principal identity.Principal, budgetID string, update core.Budget) (core.Budget, error) {
	current, err := s.Get(ctx, principal, budgetID)
	if err != nil {
		return core.Budget{}, err
	}

	current.Category = update.Category
	current.Allotted = update.Allotted
	current.StartDate = update.StartDate
	current.EndDate = update.EndDate
	if err := current.Validate(); err != nil {
		return core.Budget{}, err
	}

	if err := s.store.PutIfVersion(ctx, ledger.BudgetRecord{Budget: current}, current.Version); err != nil {
		return core.Budget{}, fmt.Errorf("failed to update budget with ID: %s: %w", budgetID, err)
	}
	current.Version++

	slog.InfoContext(ctx, "Budget updated", "budget_id", budgetID)
	return current, nil
}

func (s *BudgetService) Delete(ctx context.Context, principal identity.Principal, budgetID string) error {
	if _, err := s.Get(ctx, principal, budgetID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ledger.KindBudget, budgetID); err != nil {
		return fmt.Errorf("failed to delete budget with ID: %s: %w", budgetID, err)
	}
	slog.InfoContext(ctx, "Budget deleted", "budget_id", budgetID)
	return nil
}

func (s *BudgetService) ByOwner(ctx context.Context, principal identity.Principal, ownerID string) ([]core.Budget, error) {
	if ownerID != principal.UserID {
		return nil, core.ErrUnauthorized
	}
	records, err := s.store.GetByOwner(ctx, ledger.KindBudget, ownerID)
	if err != nil {
		return nil, err
	}
	budgets := make([]core.Budget, 0, len(records))
	for _, rec := range records {
		budgets = append(budgets, rec.(ledger.BudgetRecord).Budget)
	}
	return budgets, nil
}

// Remaining returns allotted minus spent; negative means over budget,
// which is a reportable state, not an error.
func (s *BudgetService) Remaining(ctx context.Context, principal identity.Principal, budgetID string) (core.Money, error) {
	b, err := s.Get(ctx, principal, budgetID)
	if err != nil {
		return core.Money{}, err
	}
	return b.Remaining(), nil
}

// Report recomputes each budget's spending over a period from the
// committed withdrawal records tagged with its category. Only applied
// transactions inside both the report window and the budget period
// count.
func (s *BudgetService) Report(ctx context.Context, principal identity.Principal, ownerID string, start, end time.Time) ([]BudgetReportRow, error) {
	if ownerID != principal.UserID {
		return nil, core.ErrUnauthorized
	}
	if end.Before(start) {
		return nil, core.ErrInvalidPeriod
	}

	budgets, err := s.ByOwner(ctx, principal, ownerID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.TransactionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	rows := make([]BudgetReportRow, 0, len(budgets))
	for _, b := range budgets {
		spent := core.MustMoney("0")
		for _, txn := range txns {
			if txn.Status != core.StatusApplied || txn.Kind != core.KindWithdrawal {
				continue
			}
			if txn.Category != b.Category || !b.Covers(txn.Timestamp) {
				continue
			}
			if txn.Timestamp.Before(start) || txn.Timestamp.After(end) {
				continue
			}
			spent = spent.Add(txn.Amount)
		}
		rows = append(rows, BudgetReportRow{
			Budget:     b,
			Spent:      spent,
			Remaining:  b.Allotted.Sub(spent),
			OverBudget: spent.GreaterThan(b.Allotted),
		})
	}

	slog.InfoContext(ctx, "Budget report generated",
		applog.FieldOwnerID, ownerID,
		"budgets", len(rows))
	return rows, nil
}
