package model

import "time"

// StatusHistory is one row of the append-only audit trail. Rows are only
// ever inserted, one per transition, ordered by creation time.
type StatusHistory struct {
	ID            int64             `json:"id"`
	TransactionID int64             `json:"transaction_id"`
	OldStatus     TransactionStatus `json:"old_status"`
	NewStatus     TransactionStatus `json:"new_status"`
	ChangedBy     int64             `json:"changed_by"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (StatusHistory) TableName() string { return "transaction_status_history" }
