package model

import "time"

// EscrowStatus is the state of the held funds. A holding moves from held
// to exactly one of released or refunded and never back.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

type Escrow struct {
	ID            int64        `json:"id"`
	EscrowRef     string       `json:"escrow_ref"`
	TransactionID int64        `json:"transaction_id"`
	Amount        Money        `json:"amount"`
	Status        EscrowStatus `json:"status"`
	ReleasedAt    *time.Time   `json:"released_at,omitempty"`
	ReleaseReason string       `json:"release_reason,omitempty"`
	RefundedAt    *time.Time   `json:"refunded_at,omitempty"`
	RefundReason  string       `json:"refund_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Escrow) TableName() string { return "escrow_accounts" }
