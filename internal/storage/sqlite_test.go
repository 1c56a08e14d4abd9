package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finguard/internal/core"
	"finguard/internal/ledger"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreConditionalPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := core.Wallet{OwnerID: "u1", Balance: core.MustMoney("100.00")}
	if err := store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: w}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.Get(ctx, ledger.KindWallet, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored := rec.(ledger.WalletRecord).Wallet
	if stored.Version != 1 {
		t.Fatalf("version = %d after create, want 1", stored.Version)
	}
	if !stored.Balance.Equal(core.MustMoney("100.00")) {
		t.Fatalf("balance = %s, want 100.00", stored.Balance)
	}

	// A second create against the same id loses.
	if err := store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: w}, 0); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("duplicate create err = %v, want ErrVersionConflict", err)
	}

	// Update with the read version wins; a stale version loses.
	stored.Balance = core.MustMoney("70.00")
	if err := store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: stored}, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.PutIfVersion(ctx, ledger.WalletRecord{Wallet: stored}, 1); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	rec, _ = store.Get(ctx, ledger.KindWallet, "u1")
	final := rec.(ledger.WalletRecord).Wallet
	if final.Version != 2 || !final.Balance.Equal(core.MustMoney("70.00")) {
		t.Fatalf("final state = v%d %s, want v2 70.00", final.Version, final.Balance)
	}
}

func TestSQLiteStoreOwnerQueriesAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, b := range []core.Budget{
		{ID: "b1", OwnerID: "u1", Category: "groceries", Allotted: core.MustMoney("100"), StartDate: now, EndDate: now.AddDate(0, 1, 0)},
		{ID: "b2", OwnerID: "u1", Category: "travel", Allotted: core.MustMoney("200"), StartDate: now, EndDate: now.AddDate(0, 1, 0)},
		{ID: "b3", OwnerID: "u2", Category: "rent", Allotted: core.MustMoney("900"), StartDate: now, EndDate: now.AddDate(0, 1, 0)},
	} {
		if err := store.PutIfVersion(ctx, ledger.BudgetRecord{Budget: b}, 0); err != nil {
			t.Fatalf("seed %s: %v", b.ID, err)
		}
	}

	budgets, err := store.GetByOwner(ctx, ledger.KindBudget, "u1")
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if len(budgets) != 2 {
		t.Fatalf("budgets for u1 = %d, want 2", len(budgets))
	}

	ok, err := store.Exists(ctx, ledger.KindBudget, "b3")
	if err != nil || !ok {
		t.Fatalf("exists b3 = %v, %v; want true", ok, err)
	}

	if err := store.Delete(ctx, ledger.KindBudget, "b2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, ledger.KindBudget, "b2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, ledger.KindBudget, "b2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreTransactionLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	txn := core.Transaction{
		ID:             "t1",
		IdempotencyKey: "k1",
		OwnerID:        "u1",
		Kind:           core.KindWithdrawal,
		Status:         core.StatusApplied,
		Amount:         core.MustMoney("30.00"),
		Timestamp:      time.Now(),
	}
	stored, err := store.AppendTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID != "t1" {
		t.Fatalf("stored id = %s, want t1", stored.ID)
	}

	dup := txn
	dup.ID = "t2"
	stored, err = store.AppendTransaction(ctx, dup)
	if !errors.Is(err, core.ErrDuplicateSubmission) {
		t.Fatalf("duplicate append err = %v, want ErrDuplicateSubmission", err)
	}
	if stored.ID != "t1" {
		t.Fatalf("duplicate append returned %s, want the original t1", stored.ID)
	}

	second := core.Transaction{
		ID:             "t3",
		IdempotencyKey: "k2",
		OwnerID:        "u1",
		Kind:           core.KindDeposit,
		Status:         core.StatusApplied,
		Amount:         core.MustMoney("10.00"),
		Timestamp:      time.Now(),
	}
	if _, err := store.AppendTransaction(ctx, second); err != nil {
		t.Fatalf("second append: %v", err)
	}

	byKey, ok, err := store.TransactionByKey(ctx, "k1")
	if err != nil || !ok || byKey.ID != "t1" {
		t.Fatalf("by key = %s, %v, %v; want t1", byKey.ID, ok, err)
	}
	if _, ok, _ := store.TransactionByKey(ctx, "missing"); ok {
		t.Fatal("missing key reported as present")
	}

	txns, err := store.TransactionsByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("by owner: %v", err)
	}
	if len(txns) != 2 || txns[0].ID != "t1" || txns[1].ID != "t3" {
		t.Fatalf("log order = %+v, want t1 then t3", txns)
	}
	if !txns[0].Amount.Equal(core.MustMoney("30.00")) {
		t.Fatalf("amount round trip = %s, want 30.00", txns[0].Amount)
	}
}
