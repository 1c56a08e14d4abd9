package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finguard/internal/core"
	"finguard/internal/identity"
	"finguard/internal/ledger"
	applog "finguard/internal/log"
)

// WalletService manages the per-user wallet entity. Balance deltas go
// through the invariant engine; direct writes do not exist.
type WalletService struct {
	store   ledger.Store
	retries int
	now     func() time.Time
}

func NewWalletService(store ledger.Store) *WalletService {
	return &WalletService{store: store, retries: 3, now: time.Now}
}

// CreateForUser provisions the user's wallet at registration time.
// Exactly one wallet per user; a second create is rejected.
func (s *WalletService) CreateForUser(ctx context.Context, ownerID string, initial core.Money) (core.Wallet, error) {
	if initial.IsNegative() {
		return core.Wallet{}, core.ErrNegativeBalance
	}
	wallet := core.Wallet{OwnerID: ownerID, Balance: initial}
	if err := wallet.Validate(); err != nil {
		return core.Wallet{}, err
	}

	if err := s.store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: wallet}, 0); err != nil {
		if errors.Is(err, core.ErrVersionConflict) {
			return core.Wallet{}, fmt.Errorf("wallet already exists for user %s: %w", ownerID, err)
		}
		return core.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	wallet.Version = 1

	slog.InfoContext(ctx, "Wallet created",
		applog.FieldOwnerID, ownerID,
		"balance", wallet.Balance.String())
	return wallet, nil
}

// Get returns the caller's wallet.
func (s *WalletService) Get(ctx context.Context, principal identity.Principal, ownerID string) (core.Wallet, error) {
	if ownerID != principal.UserID {
		return core.Wallet{}, core.ErrUnauthorized
	}
	rec, err := s.store.Get(ctx, ledger.KindWallet, ownerID)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("user profile not found with id: %s: %w", ownerID, core.ErrNotFound)
	}
	return rec.(ledger.WalletRecord).Wallet, nil
}

// UpdateBalance applies a signed delta to the wallet under optimistic
// concurrency. The engine rejects any delta that would leave the
// balance negative.
func (s *WalletService) UpdateBalance(ctx context.Context, principal identity.Principal, ownerID string, delta core.Money) (core.Wallet, error) {
	if ownerID != principal.UserID {
		return core.Wallet{}, core.ErrUnauthorized
	}

	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		rec, err := s.store.Get(ctx, ledger.KindWallet, ownerID)
		if err != nil {
			return core.Wallet{}, fmt.Errorf("user profile not found with id: %s: %w", ownerID, core.ErrNotFound)
		}
		wallet := rec.(ledger.WalletRecord).Wallet

		next, err := core.ApplyWalletDelta(wallet, delta)
		if err != nil {
			slog.ErrorContext(ctx, "Rejected wallet update",
				applog.FieldOwnerID, ownerID,
				"balance", wallet.Balance.String(),
				"delta", delta.String())
			return core.Wallet{}, err
		}

		if err := s.store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: next}, wallet.Version); err != nil {
			if errors.Is(err, core.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return core.Wallet{}, err
		}
		next.Version = wallet.Version + 1

		slog.InfoContext(ctx, "Wallet updated",
			applog.FieldOwnerID, ownerID,
			"balance", next.Balance.String())
		return next, nil
	}
	return core.Wallet{}, fmt.Errorf("%w: %v", core.ErrConflict, lastErr)
}
