// Package worker consumes transaction events off the queue and fans
// them out to the statement sink and the user notification log.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"finguard/internal/amqp"
	"finguard/internal/core"
	applog "finguard/internal/log"
	"finguard/internal/statement"
)

// NotifyWorker handles transaction events published by the ledger
// service. Statement writes are retried by the queue: a returned error
// nacks and requeues the delivery.
type NotifyWorker struct {
	statement statement.Writer
}

func NewNotifyWorker(w statement.Writer) *NotifyWorker {
	return &NotifyWorker{statement: w}
}

// HandleTransactionEvent appends the event to the statement and emits
// the user notification.
func (w *NotifyWorker) HandleTransactionEvent(ctx context.Context, msg *amqp.TransactionEventMessage) error {
	slog.InfoContext(ctx, "Processing transaction event",
		applog.FieldTxnID, msg.TxnID,
		applog.FieldOwnerID, msg.OwnerID,
		applog.FieldTxnKind, msg.Kind,
		applog.FieldTxnStatus, msg.Status)

	amount, err := core.NewMoneyFromString(msg.Amount)
	if err != nil {
		// A malformed amount will never parse on redelivery either.
		slog.ErrorContext(ctx, "Dropping event with unparseable amount",
			applog.FieldTxnID, msg.TxnID,
			applog.FieldAmount, msg.Amount,
			applog.FieldError, err)
		return nil
	}

	entry := statement.Entry{
		Timestamp: msg.Timestamp,
		OwnerID:   msg.OwnerID,
		Kind:      string(msg.Kind),
		Status:    string(msg.Status),
		Amount:    amount,
		Category:  msg.Category,
		AssetType: msg.AssetType,
		LoanID:    msg.LoanID,
		Cause:     msg.Cause,
	}

	ref, err := w.statement.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append statement entry: %w", err)
	}

	w.notify(ctx, msg)

	slog.InfoContext(ctx, "Transaction event processed",
		applog.FieldTxnID, msg.TxnID,
		applog.FieldStatementRef, ref)
	return nil
}

// notify emits the user-facing notification for the event. Delivery is
// the log for now; a push channel slots in here later.
func (w *NotifyWorker) notify(ctx context.Context, msg *amqp.TransactionEventMessage) {
	switch {
	case msg.Status == core.StatusRejected:
		slog.WarnContext(ctx, "Notification: transaction rejected",
			applog.FieldOwnerID, msg.OwnerID,
			applog.FieldTxnKind, msg.Kind,
			applog.FieldAmount, msg.Amount,
			"cause", msg.Cause)
	case msg.OverBudget:
		slog.WarnContext(ctx, "Notification: budget exceeded",
			applog.FieldOwnerID, msg.OwnerID,
			applog.FieldCategory, msg.Category,
			applog.FieldAmount, msg.Amount)
	default:
		slog.InfoContext(ctx, "Notification: transaction applied",
			applog.FieldOwnerID, msg.OwnerID,
			applog.FieldTxnKind, msg.Kind,
			applog.FieldAmount, msg.Amount)
	}
}
