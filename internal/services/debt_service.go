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

// DebtService manages loan records. Payments flow through the
// transaction orchestrator; this service only creates, reads and
// retires debts.
type DebtService struct {
	store ledger.Store
	now   func() time.Time
}

func NewDebtService(store ledger.Store) *DebtService {
	return &DebtService{store: store, now: time.Now}
}

// Create opens a debt with the outstanding balance at the full
// principal.
func (s *DebtService) Create(ctx context.Context, principal identity.Principal, d core.Debt) (core.Debt, error) {
	if d.OwnerID != principal.UserID {
		return core.Debt{}, core.ErrUnauthorized
	}
	d.LoanID = uuid.NewString()
	d.Outstanding = d.Principal
	if err := d.Validate(); err != nil {
		return core.Debt{}, err
	}

	if err := s.store.PutIfVersion(ctx, ledger.DebtRecord{Debt: d}, 0); err != nil {
		return core.Debt{}, fmt.Errorf("create debt: %w", err)
	}
	d.Version = 1

	slog.InfoContext(ctx, "Debt created",
		applog.FieldLoanID, d.LoanID,
		applog.FieldOwnerID, d.OwnerID,
		"principal", d.Principal.String())
	return d, nil
}

func (s *DebtService) Get(ctx context.Context, principal identity.Principal, loanID string) (core.Debt, error) {
	rec, err := s.store.Get(ctx, ledger.KindDebt, loanID)
	if err != nil {
		return core.Debt{}, fmt.Errorf("debt not found with ID: %s: %w", loanID, core.ErrNotFound)
	}
	d := rec.(ledger.DebtRecord).Debt
	if d.OwnerID != principal.UserID {
		return core.Debt{}, core.ErrUnauthorized
	}
	return d, nil
}

func (s *DebtService) Delete(ctx context.Context, principal identity.Principal, loanID string) error {
	if _, err := s.Get(ctx, principal, loanID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ledger.KindDebt, loanID); err != nil {
		return fmt.Errorf("delete debt with ID: %s: %w", loanID, err)
	}
	slog.InfoContext(ctx, "Debt deleted", applog.FieldLoanID, loanID)
	return nil
}

func (s *DebtService) ByOwner(ctx context.Context, principal identity.Principal, ownerID string) ([]core.Debt, error) {
	if ownerID != principal.UserID {
		return nil, core.ErrUnauthorized
	}
	records, err := s.store.GetByOwner(ctx, ledger.KindDebt, ownerID)
	if err != nil {
		return nil, err
	}
	debts := make([]core.Debt, 0, len(records))
	for _, rec := range records {
		debts = append(debts, rec.(ledger.DebtRecord).Debt)
	}
	if len(debts) == 0 {
		slog.WarnContext(ctx, "No debts found for user", applog.FieldOwnerID, ownerID)
	}
	return debts, nil
}
