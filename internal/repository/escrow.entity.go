package repository

import (
	"time"

	"github.com/safepay/escrow-gateway/internal/model"
)

type EscrowEntity struct {
	ID            int64      `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	EscrowRef     string     `db:"escrow_ref"     gorm:"column:escrow_ref;not null;unique"`
	TransactionID int64      `db:"transaction_id" gorm:"column:transaction_id;not null;uniqueIndex"`
	Amount        int64      `db:"amount"         gorm:"column:amount;not null"`
	Status        string     `db:"status"         gorm:"column:status;not null"`
	ReleasedAt    *time.Time `db:"released_at"    gorm:"column:released_at"`
	ReleaseReason string     `db:"release_reason" gorm:"column:release_reason"`
	RefundedAt    *time.Time `db:"refunded_at"    gorm:"column:refunded_at"`
	RefundReason  string     `db:"refund_reason"  gorm:"column:refund_reason"`
	CreatedAt     time.Time  `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (EscrowEntity) TableName() string {
	return "escrow_accounts"
}

func toEscrowModel(e *EscrowEntity) *model.Escrow {
	if e == nil {
		return nil
	}
	return &model.Escrow{
		ID:            e.ID,
		EscrowRef:     e.EscrowRef,
		TransactionID: e.TransactionID,
		Amount:        model.Money(e.Amount),
		Status:        model.EscrowStatus(e.Status),
		ReleasedAt:    e.ReleasedAt,
		ReleaseReason: e.ReleaseReason,
		RefundedAt:    e.RefundedAt,
		RefundReason:  e.RefundReason,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
