package core

import (
	"errors"
	"testing"
)

func TestApplyWalletDelta(t *testing.T) {
	w := Wallet{OwnerID: "u1", Balance: MustMoney("100.00")}

	w, err := ApplyWalletDelta(w, MustMoney("-30.00"))
	if err != nil {
		t.Fatalf("withdraw 30: %v", err)
	}
	if !w.Balance.Equal(MustMoney("70.00")) {
		t.Fatalf("expected 70.00, got %s", w.Balance)
	}

	// Overdraw must fail and leave the caller's state untouched.
	if _, err := ApplyWalletDelta(w, MustMoney("-80.00")); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
	if !w.Balance.Equal(MustMoney("70.00")) {
		t.Fatalf("balance changed after rejected delta: %s", w.Balance)
	}

	w, err = ApplyWalletDelta(w, MustMoney("5.25"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !w.Balance.Equal(MustMoney("75.25")) {
		t.Fatalf("expected 75.25, got %s", w.Balance)
	}
}

func TestApplyWalletDeltaToZero(t *testing.T) {
	w := Wallet{OwnerID: "u1", Balance: MustMoney("10")}
	w, err := ApplyWalletDelta(w, MustMoney("-10"))
	if err != nil {
		t.Fatalf("exact withdrawal should be admissible: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", w.Balance)
	}
}

func TestApplyDebtPaymentReject(t *testing.T) {
	d := Debt{LoanID: "l1", OwnerID: "u1", Principal: MustMoney("1000"), Outstanding: MustMoney("500.00")}

	if _, err := ApplyDebtPayment(d, MustMoney("600.00"), OverpaymentReject); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	d, err := ApplyDebtPayment(d, MustMoney("500.00"), OverpaymentReject)
	if err != nil {
		t.Fatalf("exact payoff: %v", err)
	}
	if !d.Outstanding.IsZero() {
		t.Fatalf("expected zero outstanding, got %s", d.Outstanding)
	}
}

func TestApplyDebtPaymentClamp(t *testing.T) {
	d := Debt{LoanID: "l1", OwnerID: "u1", Principal: MustMoney("1000"), Outstanding: MustMoney("500.00")}
	d, err := ApplyDebtPayment(d, MustMoney("600.00"), OverpaymentClamp)
	if err != nil {
		t.Fatalf("clamp policy should accept overpayment: %v", err)
	}
	if !d.Outstanding.IsZero() {
		t.Fatalf("expected outstanding clamped to zero, got %s", d.Outstanding)
	}
}

func TestApplyDebtPaymentNonPositive(t *testing.T) {
	d := Debt{Outstanding: MustMoney("100")}
	for _, amt := range []string{"0", "-5"} {
		if _, err := ApplyDebtPayment(d, MustMoney(amt), OverpaymentReject); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("payment %s: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestApplyBuyWeightedAverage(t *testing.T) {
	p := Position{ID: "p1", OwnerID: "u1", AssetType: "stock"}

	p, err := ApplyBuy(p, MustQuantity("10"), MustMoney("100"))
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if !p.PurchasePrice.Equal(MustMoney("100")) {
		t.Fatalf("expected price 100, got %s", p.PurchasePrice)
	}

	// 10 @ 100 plus 10 @ 200 averages to 150.
	p, err = ApplyBuy(p, MustQuantity("10"), MustMoney("200"))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if !p.Quantity.Equal(MustQuantity("20")) {
		t.Fatalf("expected quantity 20, got %s", p.Quantity)
	}
	if !p.PurchasePrice.Equal(MustMoney("150")) {
		t.Fatalf("expected weighted average 150, got %s", p.PurchasePrice)
	}
}

func TestApplySell(t *testing.T) {
	p := Position{ID: "p1", OwnerID: "u1", AssetType: "stock", Quantity: MustQuantity("10"), PurchasePrice: MustMoney("100")}

	if _, err := ApplySell(p, MustQuantity("10.5")); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("expected ErrInsufficientQuantity, got %v", err)
	}
	if !p.Quantity.Equal(MustQuantity("10")) {
		t.Fatalf("quantity changed after rejected sell: %s", p.Quantity)
	}

	p, err := ApplySell(p, MustQuantity("10"))
	if err != nil {
		t.Fatalf("full sell: %v", err)
	}
	if !p.Quantity.IsZero() {
		t.Fatalf("expected zero quantity, got %s", p.Quantity)
	}
}

func TestApplyBudgetSpend(t *testing.T) {
	b := Budget{ID: "b1", OwnerID: "u1", Category: "food", Allotted: MustMoney("200"), Spent: MustMoney("150")}

	b, over := ApplyBudgetSpend(b, MustMoney("30"))
	if over {
		t.Fatal("180 of 200 is not over budget")
	}
	if !b.Spent.Equal(MustMoney("180")) {
		t.Fatalf("expected spent 180, got %s", b.Spent)
	}

	// Over-spend is reported, never blocked.
	b, over = ApplyBudgetSpend(b, MustMoney("50"))
	if !over {
		t.Fatal("230 of 200 should flag over budget")
	}
	if !b.Spent.Equal(MustMoney("230")) {
		t.Fatalf("expected spent 230, got %s", b.Spent)
	}
}
