package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"finguard/internal/core"
	"finguard/internal/gateway"
	"finguard/internal/identity"
	"finguard/internal/ledger"
)

// fakeParticipant is a scriptable downstream service: operations can be
// told to fail or hang so the fallback paths get exercised.
type fakeParticipant struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	delay map[string]time.Duration
}

func newFakeParticipant() *fakeParticipant {
	return &fakeParticipant{
		fail:  make(map[string]error),
		delay: make(map[string]time.Duration),
	}
}

func (f *fakeParticipant) Invoke(ctx context.Context, operation string, payload any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, operation)
	delay := f.delay[operation]
	failErr := f.fail[operation]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return "ok", nil
}

func (f *fakeParticipant) callCount(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == operation {
			n++
		}
	}
	return n
}

type fixture struct {
	store       *ledger.MemoryStore
	participant *fakeParticipant
	svc         *TransactionService
}

func newFixture(t *testing.T, cfg TransactionConfig) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	participant := newFakeParticipant()
	remote := gateway.New(participant, nil)
	return &fixture{
		store:       store,
		participant: participant,
		svc:         NewTransactionService(store, remote, nil, cfg),
	}
}

func (f *fixture) seedWallet(t *testing.T, ownerID, balance string) {
	t.Helper()
	w := core.Wallet{OwnerID: ownerID, Balance: core.MustMoney(balance)}
	if err := f.store.PutIfVersion(context.Background(), ledger.WalletRecord{Wallet: w}, 0); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func (f *fixture) seedDebt(t *testing.T, d core.Debt) {
	t.Helper()
	if err := f.store.PutIfVersion(context.Background(), ledger.DebtRecord{Debt: d}, 0); err != nil {
		t.Fatalf("seed debt: %v", err)
	}
}

func (f *fixture) wallet(t *testing.T, ownerID string) core.Wallet {
	t.Helper()
	rec, err := f.store.Get(context.Background(), ledger.KindWallet, ownerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return rec.(ledger.WalletRecord).Wallet
}

func principal(userID string) identity.Principal {
	return identity.Principal{UserID: userID, Username: userID, Role: "USER"}
}

func withdrawal(ownerID, amount, key string) core.TransactionRequest {
	return core.TransactionRequest{
		OwnerID:        ownerID,
		Kind:           core.KindWithdrawal,
		Amount:         core.MustMoney(amount),
		IdempotencyKey: key,
	}
}

func TestSubmitDepositAndWithdrawal(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "100.00")
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "30.00", "k1"))
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if res.Transaction.Status != core.StatusApplied {
		t.Fatalf("status = %s, want applied", res.Transaction.Status)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("70.00")) {
		t.Fatalf("balance after withdrawal = %s, want 70.00", got)
	}

	req := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindDeposit,
		Amount:         core.MustMoney("25.50"),
		IdempotencyKey: "k2",
	}
	if _, err := f.svc.Submit(ctx, principal("u1"), req); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("95.50")) {
		t.Fatalf("balance after deposit = %s, want 95.50", got)
	}

	txns, err := f.svc.ListByOwner(ctx, principal("u1"), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("transaction count = %d, want 2", len(txns))
	}
	if txns[0].IdempotencyKey != "k1" || txns[1].IdempotencyKey != "k2" {
		t.Fatalf("log not in commit order: %s, %s", txns[0].IdempotencyKey, txns[1].IdempotencyKey)
	}
}

func TestSubmitOverdrawRejected(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "20.00")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "50.00", "k1"))
	if !errors.Is(err, core.ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("20.00")) {
		t.Fatalf("balance moved to %s on rejected withdrawal", got)
	}

	txns, _ := f.svc.ListByOwner(ctx, principal("u1"), "u1")
	if len(txns) != 1 || txns[0].Status != core.StatusRejected {
		t.Fatalf("rejected withdrawal not recorded: %+v", txns)
	}
	if txns[0].Cause == "" {
		t.Fatal("rejected record is missing its cause")
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "100.00")
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "30.00", "same-key"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "30.00", "same-key"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay produced a new record: %s vs %s", second.Transaction.ID, first.Transaction.ID)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("70.00")) {
		t.Fatalf("balance = %s after replay, want 70.00 (single debit)", got)
	}
	txns, _ := f.svc.ListByOwner(ctx, principal("u1"), "u1")
	if len(txns) != 1 {
		t.Fatalf("transaction count = %d after replay, want 1", len(txns))
	}
}

func TestSubmitConcurrentSameKey(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "100.00")
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]TransactionResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "30.00", "same-key"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if results[i].Transaction.ID != results[0].Transaction.ID {
			t.Fatalf("caller %d got record %s, caller 0 got %s", i, results[i].Transaction.ID, results[0].Transaction.ID)
		}
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("70.00")) {
		t.Fatalf("balance = %s after %d same-key submissions, want 70.00 (single debit)", got, callers)
	}
	txns, _ := f.svc.ListByOwner(ctx, principal("u1"), "u1")
	if len(txns) != 1 {
		t.Fatalf("transaction count = %d, want 1", len(txns))
	}
}

func TestSubmitRejectedOutcomeReplays(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "20.00")
	ctx := context.Background()

	_, firstErr := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "50.00", "k1"))
	if firstErr == nil {
		t.Fatal("expected rejection")
	}

	// The same key replays the recorded rejection even if the wallet
	// could cover the amount by now.
	f.seedWallet(t, "u2", "999.00") // unrelated write, keeps the store warm
	res, err := f.svc.Submit(ctx, principal("u1"), withdrawal("u1", "50.00", "k1"))
	if err != nil {
		t.Fatalf("replay of rejected submission: %v", err)
	}
	if res.Transaction.Status != core.StatusRejected {
		t.Fatalf("replayed status = %s, want rejected", res.Transaction.Status)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("20.00")) {
		t.Fatalf("replay of a rejection moved the balance to %s", got)
	}
}

func TestSubmitConcurrentWithdrawals(t *testing.T) {
	f := newFixture(t, TransactionConfig{CommitRetries: 50})
	f.seedWallet(t, "u1", "100.00")
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := withdrawal("u1", "30.00", fmt.Sprintf("k%d", i))
			_, errs[i] = f.svc.Submit(ctx, principal("u1"), req)
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
		} else if !errors.Is(err, core.ErrNegativeBalance) && !errors.Is(err, core.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	final := f.wallet(t, "u1").Balance
	if final.IsNegative() {
		t.Fatalf("final balance %s is negative", final)
	}
	want := core.MustMoney("100.00").Sub(core.MustMoney("30.00").MulQuantity(core.MustQuantity(fmt.Sprint(applied))))
	if !final.Equal(want) {
		t.Fatalf("final balance = %s with %d applied, want %s", final, applied, want)
	}
	if applied > 3 {
		t.Fatalf("%d withdrawals of 30.00 admitted against 100.00", applied)
	}
}

func TestSubmitCrossUserRejected(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "100.00")

	_, err := f.svc.Submit(context.Background(), principal("intruder"), withdrawal("u1", "30.00", "k1"))
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("100.00")) {
		t.Fatalf("cross-user submission moved the balance to %s", got)
	}
}

func TestSubmitDebtPayment(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedDebt(t, core.Debt{
		LoanID:      "loan-1",
		OwnerID:     "u1",
		Principal:   core.MustMoney("500.00"),
		Outstanding: core.MustMoney("500.00"),
		Rate:        4.5,
		TermMonths:  24,
	})
	ctx := context.Background()

	req := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindDebtPayment,
		Amount:         core.MustMoney("200.00"),
		LoanID:         "loan-1",
		IdempotencyKey: "k1",
	}
	res, err := f.svc.Submit(ctx, principal("u1"), req)
	if err != nil {
		t.Fatalf("debt payment: %v", err)
	}
	if !res.Debt.Outstanding.Equal(core.MustMoney("300.00")) {
		t.Fatalf("outstanding = %s, want 300.00", res.Debt.Outstanding)
	}
	if n := f.participant.callCount(OpWalletDebit); n != 1 {
		t.Fatalf("wallet debited %d times, want 1", n)
	}
}

func TestSubmitOverpayment(t *testing.T) {
	seed := func(f *fixture) {
		f.seedDebt(t, core.Debt{
			LoanID:      "loan-1",
			OwnerID:     "u1",
			Principal:   core.MustMoney("500.00"),
			Outstanding: core.MustMoney("500.00"),
		})
	}
	req := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindDebtPayment,
		Amount:         core.MustMoney("600.00"),
		LoanID:         "loan-1",
		IdempotencyKey: "k1",
	}

	t.Run("reject policy", func(t *testing.T) {
		f := newFixture(t, DefaultTransactionConfig())
		seed(f)

		_, err := f.svc.Submit(context.Background(), principal("u1"), req)
		if !errors.Is(err, core.ErrOverpayment) {
			t.Fatalf("err = %v, want ErrOverpayment", err)
		}
		// Rejection happens before the remote leg.
		if n := f.participant.callCount(OpWalletDebit); n != 0 {
			t.Fatalf("wallet debited %d times on a rejected overpayment", n)
		}
		rec, _ := f.store.Get(context.Background(), ledger.KindDebt, "loan-1")
		if got := rec.(ledger.DebtRecord).Debt.Outstanding; !got.Equal(core.MustMoney("500.00")) {
			t.Fatalf("outstanding moved to %s", got)
		}
	})

	t.Run("clamp policy", func(t *testing.T) {
		f := newFixture(t, TransactionConfig{OverpaymentPolicy: core.OverpaymentClamp})
		seed(f)

		res, err := f.svc.Submit(context.Background(), principal("u1"), req)
		if err != nil {
			t.Fatalf("clamped payment: %v", err)
		}
		if !res.Debt.Outstanding.IsZero() {
			t.Fatalf("outstanding = %s after clamp, want 0", res.Debt.Outstanding)
		}
	})
}

func TestSubmitPortfolioBuyWeightedAverage(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	ctx := context.Background()

	buy := func(key, amount, qty string) core.TransactionRequest {
		return core.TransactionRequest{
			OwnerID:        "u1",
			Kind:           core.KindPortfolio,
			Amount:         core.MustMoney(amount),
			AssetType:      "VWCE",
			Quantity:       core.MustQuantity(qty),
			Side:           core.SideBuy,
			IdempotencyKey: key,
		}
	}

	res, err := f.svc.Submit(ctx, principal("u1"), buy("k1", "1000.00", "10"))
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if !res.Position.PurchasePrice.Equal(core.MustMoney("100.00")) {
		t.Fatalf("purchase price = %s after first buy, want 100.00", res.Position.PurchasePrice)
	}

	res, err = f.svc.Submit(ctx, principal("u1"), buy("k2", "2000.00", "10"))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if !res.Position.PurchasePrice.Equal(core.MustMoney("150.00")) {
		t.Fatalf("weighted average = %s, want 150.00", res.Position.PurchasePrice)
	}
	if !res.Position.Quantity.Equal(core.MustQuantity("20")) {
		t.Fatalf("quantity = %s, want 20", res.Position.Quantity)
	}
	if n := f.participant.callCount(OpWalletDebit); n != 2 {
		t.Fatalf("wallet debited %d times, want 2", n)
	}
}

func TestSubmitPortfolioSell(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	ctx := context.Background()

	buy := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindPortfolio,
		Amount:         core.MustMoney("1000.00"),
		AssetType:      "VWCE",
		Quantity:       core.MustQuantity("10"),
		IdempotencyKey: "k1",
	}
	if _, err := f.svc.Submit(ctx, principal("u1"), buy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sell := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindPortfolio,
		Amount:         core.MustMoney("450.00"),
		AssetType:      "VWCE",
		Quantity:       core.MustQuantity("4"),
		Side:           core.SideSell,
		IdempotencyKey: "k2",
	}
	res, err := f.svc.Submit(ctx, principal("u1"), sell)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.Position.Quantity.Equal(core.MustQuantity("6")) {
		t.Fatalf("quantity after sell = %s, want 6", res.Position.Quantity)
	}
	if n := f.participant.callCount(OpWalletCredit); n != 1 {
		t.Fatalf("wallet credited %d times, want 1", n)
	}

	oversell := sell
	oversell.Quantity = core.MustQuantity("10")
	oversell.IdempotencyKey = "k3"
	if _, err := f.svc.Submit(ctx, principal("u1"), oversell); !errors.Is(err, core.ErrInsufficientQuantity) {
		t.Fatalf("err = %v, want ErrInsufficientQuantity", err)
	}
	if n := f.participant.callCount(OpWalletCredit); n != 1 {
		t.Fatal("oversell reached the remote wallet")
	}
}

func TestSubmitPortfolioRemoteUnavailable(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.participant.fail[OpWalletDebit] = errors.New("connection refused")
	ctx := context.Background()

	req := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindPortfolio,
		Amount:         core.MustMoney("1000.00"),
		AssetType:      "VWCE",
		Quantity:       core.MustQuantity("10"),
		IdempotencyKey: "k1",
	}
	_, err := f.svc.Submit(ctx, principal("u1"), req)
	if !gateway.IsUnavailable(err) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}

	// The position must not exist: the remote leg runs first.
	positions, err := f.store.GetByOwner(ctx, ledger.KindPosition, "u1")
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("%d positions committed despite the failed remote leg", len(positions))
	}

	txns, _ := f.svc.ListByOwner(ctx, principal("u1"), "u1")
	if len(txns) != 1 || txns[0].Status != core.StatusRejected {
		t.Fatalf("failed purchase not recorded as rejected: %+v", txns)
	}
}

func TestSubmitPortfolioRemoteTimeout(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.participant.delay[OpWalletDebit] = 200 * time.Millisecond

	store := f.store
	participant := f.participant
	remote := gateway.New(participant, nil)
	remote.Register(OpWalletDebit, gateway.Strategy{Kind: gateway.OpWrite, Timeout: 20 * time.Millisecond})
	svc := NewTransactionService(store, remote, nil, DefaultTransactionConfig())

	req := core.TransactionRequest{
		OwnerID:        "u1",
		Kind:           core.KindPortfolio,
		Amount:         core.MustMoney("1000.00"),
		AssetType:      "VWCE",
		Quantity:       core.MustQuantity("10"),
		IdempotencyKey: "k1",
	}
	_, err := svc.Submit(context.Background(), principal("u1"), req)
	if !gateway.IsUnavailable(err) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable on timeout", err)
	}
	positions, _ := store.GetByOwner(context.Background(), ledger.KindPosition, "u1")
	if len(positions) != 0 {
		t.Fatal("position committed despite the timed-out remote leg")
	}
}

func TestSubmitWithdrawalBudgetLeg(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	f.seedWallet(t, "u1", "500.00")
	ctx := context.Background()

	now := time.Now()
	budget := core.Budget{
		ID:        "b1",
		OwnerID:   "u1",
		Category:  "groceries",
		Allotted:  core.MustMoney("100.00"),
		Spent:     core.MustMoney("0"),
		StartDate: now.AddDate(0, 0, -1),
		EndDate:   now.AddDate(0, 1, 0),
	}
	if err := f.store.PutIfVersion(ctx, ledger.BudgetRecord{Budget: budget}, 0); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	req := withdrawal("u1", "80.00", "k1")
	req.Category = "groceries"
	res, err := f.svc.Submit(ctx, principal("u1"), req)
	if err != nil {
		t.Fatalf("categorized withdrawal: %v", err)
	}
	if res.OverBudget {
		t.Fatal("80.00 against 100.00 flagged as over budget")
	}
	if !res.Budget.Spent.Equal(core.MustMoney("80.00")) {
		t.Fatalf("spent = %s, want 80.00", res.Budget.Spent)
	}

	req = withdrawal("u1", "40.00", "k2")
	req.Category = "groceries"
	res, err = f.svc.Submit(ctx, principal("u1"), req)
	if err != nil {
		t.Fatalf("second categorized withdrawal: %v", err)
	}
	if !res.OverBudget {
		t.Fatal("120.00 spent against 100.00 not flagged as over budget")
	}
	if !res.Transaction.OverBudget {
		t.Fatal("over-budget flag missing from the transaction record")
	}
	if got := f.wallet(t, "u1").Balance; !got.Equal(core.MustMoney("380.00")) {
		t.Fatalf("balance = %s, want 380.00 (overspend still debits the wallet)", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, DefaultTransactionConfig())
	ctx := context.Background()

	cases := []struct {
		name string
		req  core.TransactionRequest
		want error
	}{
		{"missing key", core.TransactionRequest{OwnerID: "u1", Kind: core.KindDeposit, Amount: core.MustMoney("10")}, core.ErrEmptyIdempotencyKey},
		{"zero amount", withdrawal("u1", "0", "k"), core.ErrInvalidAmount},
		{"unknown kind", core.TransactionRequest{OwnerID: "u1", Kind: "transfer", Amount: core.MustMoney("10"), IdempotencyKey: "k"}, core.ErrInvalidKind},
		{"portfolio without asset", core.TransactionRequest{OwnerID: "u1", Kind: core.KindPortfolio, Amount: core.MustMoney("10"), Quantity: core.MustQuantity("1"), IdempotencyKey: "k"}, core.ErrEmptyAssetType},
		{"debt payment without loan", core.TransactionRequest{OwnerID: "u1", Kind: core.KindDebtPayment, Amount: core.MustMoney("10"), IdempotencyKey: "k"}, core.ErrEmptyLoanID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Submit(ctx, principal("u1"), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
