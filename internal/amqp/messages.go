package amqp

import (
	"encoding/json"
	"time"

	"finguard/internal/core"
)

// TransactionEventMessage is published after every transaction append,
// applied or rejected. The notification worker fans it out to the
// statement sink and the user-facing notification.
type TransactionEventMessage struct {
	TxnID      string                 `json:"txn_id"`
	OwnerID    string                 `json:"owner_id"`
	Kind       core.TransactionKind   `json:"kind"`
	Status     core.TransactionStatus `json:"status"`
	Amount     string                 `json:"amount"`
	Category   string                 `json:"category,omitempty"`
	AssetType  string                 `json:"asset_type,omitempty"`
	LoanID     string                 `json:"loan_id,omitempty"`
	OverBudget bool                   `json:"over_budget,omitempty"`
	Cause      string                 `json:"cause,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewTransactionEvent builds the event for a committed transaction
// record.
func NewTransactionEvent(txn core.Transaction) *TransactionEventMessage {
	return &TransactionEventMessage{
		TxnID:      txn.ID,
		OwnerID:    txn.OwnerID,
		Kind:       txn.Kind,
		Status:     txn.Status,
		Amount:     txn.Amount.String(),
		Category:   txn.Category,
		AssetType:  txn.AssetType,
		LoanID:     txn.LoanID,
		OverBudget: txn.OverBudget,
		Cause:      txn.Cause,
		Timestamp:  txn.Timestamp,
	}
}

// ToJSON converts the message to JSON bytes.
func (m *TransactionEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON creates a message from JSON bytes.
func TransactionEventFromJSON(data []byte) (*TransactionEventMessage, error) {
	var msg TransactionEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
