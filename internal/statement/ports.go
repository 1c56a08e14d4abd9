// Package statement defines the outbound statement sink: consumed
// transaction events are appended to a durable statement the user can
// read outside the service.
package statement

import (
	"context"
	"time"

	"github.com/Rhymond/go-money"

	"finguard/internal/core"
)

// Entry is one statement row.
type Entry struct {
	Timestamp time.Time
	OwnerID   string
	Kind      string
	Status    string
	Amount    core.Money
	Category  string
	AssetType string
	LoanID    string
	Cause     string
}

// DisplayAmount formats the amount for the statement row.
func (e Entry) DisplayAmount() string {
	return money.New(e.Amount.Minor(), money.EUR).Display()
}

// Writer appends statement entries to the configured sink.
type Writer interface {
	Append(ctx context.Context, e Entry) (rowRef string, err error)
}
