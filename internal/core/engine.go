package core

// The balance invariant engine: pure functions that decide whether a
// delta is admissible and compute the resulting entity state. No I/O,
// no clock, no mutation of the input; every input either yields a new
// state or a named error.

// OverpaymentPolicy selects what happens when a debt payment exceeds
// the outstanding balance. The original behavior is ambiguous, so both
// readings are supported and the choice is configuration.
type OverpaymentPolicy string

const (
	// OverpaymentReject fails the payment with ErrOverpayment.
	OverpaymentReject OverpaymentPolicy = "reject"
	// OverpaymentClamp floors the outstanding balance at zero.
	OverpaymentClamp OverpaymentPolicy = "clamp"
)

func (p OverpaymentPolicy) Valid() bool {
	return p == OverpaymentReject || p == OverpaymentClamp
}

// ApplyWalletDelta returns the wallet with delta added to its balance.
// Deposits use a positive delta, withdrawals a negative one. Fails with
// ErrNegativeBalance when the result would drop below zero.
func ApplyWalletDelta(w Wallet, delta Money) (Wallet, error) {
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	w.Balance = next
	return w, nil
}

// ApplyDebtPayment reduces the outstanding balance by the payment
// amount. The payment must be positive. Overpayment handling follows
// the given policy: reject with ErrOverpayment, or clamp at zero.
func ApplyDebtPayment(d Debt, payment Money, policy OverpaymentPolicy) (Debt, error) {
	if !payment.IsPositive() {
		return Debt{}, ErrInvalidAmount
	}
	next := d.Outstanding.Sub(payment)
	if next.IsNegative() {
		if policy == OverpaymentReject {
			return Debt{}, ErrOverpayment
		}
		next = MustMoney("0")
	}
	d.Outstanding = next
	return d, nil
}

// ApplyBuy increases the held quantity and recomputes the purchase
// price as the weighted average of the existing holding and the new
// lot. Quantity and price must be positive.
func ApplyBuy(p Position, qty Quantity, price Money) (Position, error) {
	if !qty.IsPositive() {
		return Position{}, ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return Position{}, ErrInvalidAmount
	}
	total := p.Quantity.Add(qty)
	cost := p.PurchasePrice.MulQuantity(p.Quantity).Add(price.MulQuantity(qty))
	p.PurchasePrice = cost.DivQuantity(total)
	p.Quantity = total
	return p, nil
}

// ApplySell decreases the held quantity, failing with
// ErrInsufficientQuantity when the request exceeds the holding. The
// purchase price is unchanged (average cost basis).
func ApplySell(p Position, qty Quantity) (Position, error) {
	if !qty.IsPositive() {
		return Position{}, ErrInvalidQuantity
	}
	if qty.GreaterThan(p.Quantity) {
		return Position{}, ErrInsufficientQuantity
	}
	p.Quantity = p.Quantity.Sub(qty)
	return p, nil
}

// ApplyBudgetSpend adds the transaction amount to the budget's spent
// total. Spending is never blocked; the returned flag reports whether
// the budget is now exceeded so callers can surface it.
func ApplyBudgetSpend(b Budget, amount Money) (Budget, bool) {
	b.Spent = b.Spent.Add(amount)
	return b, b.Spent.GreaterThan(b.Allotted)
}
