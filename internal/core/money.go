package core

import (
	"github.com/shopspring/decimal"
)

// Money is an exact fixed-point monetary amount. All ledger arithmetic
// goes through decimal.Decimal so repeated deltas never accumulate
// floating point drift.
type Money struct {
	value decimal.Decimal
}

// NewMoney creates a Money from a float input (request payloads).
func NewMoney(v float64) Money {
	return Money{value: decimal.NewFromFloat(v)}
}

// NewMoneyFromString parses an exact decimal string like "100.00".
func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{value: d}, nil
}

// MustMoney parses an exact decimal string and panics on bad input.
// Literal constructor for tests and seed data.
func MustMoney(s string) Money {
	return Money{value: decimal.RequireFromString(s)}
}

func (m Money) Add(n Money) Money        { return Money{value: m.value.Add(n.value)} }
func (m Money) Sub(n Money) Money        { return Money{value: m.value.Sub(n.value)} }
func (m Money) Neg() Money               { return Money{value: m.value.Neg()} }
func (m Money) IsZero() bool             { return m.value.IsZero() }
func (m Money) IsNegative() bool         { return m.value.IsNegative() }
func (m Money) IsPositive() bool         { return m.value.IsPositive() }
func (m Money) Equal(n Money) bool       { return m.value.Equal(n.value) }
func (m Money) LessThan(n Money) bool    { return m.value.LessThan(n.value) }
func (m Money) GreaterThan(n Money) bool { return m.value.GreaterThan(n.value) }
func (m Money) String() string           { return m.value.StringFixed(2) }

func (m Money) MulQuantity(q Quantity) Money {
	return Money{value: m.value.Mul(q.value)}
}

// DivQuantity divides an amount by a quantity (weighted-average price math).
func (m Money) DivQuantity(q Quantity) Money {
	return Money{value: m.value.Div(q.value)}
}

// Minor returns the amount in minor units (cents) for display formatting.
func (m Money) Minor() int64 {
	return m.value.Shift(2).IntPart()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return m.value.MarshalJSON()
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.value.UnmarshalJSON(b)
}

// Quantity is an exact asset quantity (shares, units). Kept as its own
// type so quantities and amounts cannot be mixed up in engine code.
type Quantity struct {
	value decimal.Decimal
}

// NewQuantity creates a Quantity from a float input.
func NewQuantity(v float64) Quantity {
	return Quantity{value: decimal.NewFromFloat(v)}
}

// NewQuantityFromString parses an exact decimal string like "2.5".
func NewQuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{value: d}, nil
}

// MustQuantity parses an exact decimal string and panics on bad input.
func MustQuantity(s string) Quantity {
	return Quantity{value: decimal.RequireFromString(s)}
}

func (q Quantity) Add(r Quantity) Quantity     { return Quantity{value: q.value.Add(r.value)} }
func (q Quantity) Sub(r Quantity) Quantity     { return Quantity{value: q.value.Sub(r.value)} }
func (q Quantity) IsZero() bool                { return q.value.IsZero() }
func (q Quantity) IsNegative() bool            { return q.value.IsNegative() }
func (q Quantity) IsPositive() bool            { return q.value.IsPositive() }
func (q Quantity) Equal(r Quantity) bool       { return q.value.Equal(r.value) }
func (q Quantity) GreaterThan(r Quantity) bool { return q.value.GreaterThan(r.value) }
func (q Quantity) String() string              { return q.value.String() }

func (q Quantity) MarshalJSON() ([]byte, error) {
	return q.value.MarshalJSON()
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	return q.value.UnmarshalJSON(b)
}
