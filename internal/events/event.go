package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/safepay/escrow-gateway/internal/model"
)

const (
	TypeTransactionCreated   = "transaction.created"
	TypeTransactionDelivered = "transaction.delivered"
	TypeTransactionCompleted = "transaction.completed"
	TypeTransactionDisputed  = "transaction.disputed"
	TypeTransactionCancelled = "transaction.cancelled"
	TypeTransactionRefunded  = "transaction.refunded"
)

// TransactionEvent is the lifecycle notification published after a state
// machine transition commits. Consumers drive webhooks and metrics off it;
// the ledger itself never depends on event delivery.
type TransactionEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	TransactionID  int64     `json:"transaction_id"`
	TransactionRef string    `json:"transaction_ref"`
	Status         string    `json:"status"`
	ActorID        int64     `json:"actor_id"`
	Amount         string    `json:"amount"`
	TotalAmount    string    `json:"total_amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewTransactionEvent(eventType string, txn *model.Transaction, actorID int64) TransactionEvent {
	return TransactionEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		TransactionID:  txn.ID,
		TransactionRef: txn.TransactionRef,
		Status:         string(txn.Status),
		ActorID:        actorID,
		Amount:         txn.Amount.String(),
		TotalAmount:    txn.TotalAmount.String(),
		OccurredAt:     time.Now().UTC(),
	}
}
