package repository

import (
	"time"

	"github.com/safepay/escrow-gateway/internal/model"
)

type StatusHistoryEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID int64     `db:"transaction_id" gorm:"column:transaction_id;not null;index"`
	OldStatus     string    `db:"old_status"     gorm:"column:old_status"`
	NewStatus     string    `db:"new_status"     gorm:"column:new_status;not null"`
	ChangedBy     int64     `db:"changed_by"     gorm:"column:changed_by;not null"`
	Reason        string    `db:"reason"         gorm:"column:reason"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (StatusHistoryEntity) TableName() string {
	return "transaction_status_history"
}

func toStatusHistoryModel(e *StatusHistoryEntity) *model.StatusHistory {
	if e == nil {
		return nil
	}
	return &model.StatusHistory{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		OldStatus:     model.TransactionStatus(e.OldStatus),
		NewStatus:     model.TransactionStatus(e.NewStatus),
		ChangedBy:     e.ChangedBy,
		Reason:        e.Reason,
		CreatedAt:     e.CreatedAt,
	}
}

func toStatusHistoryModels(entities []*StatusHistoryEntity) []*model.StatusHistory {
	if entities == nil {
		return nil
	}
	models := make([]*model.StatusHistory, len(entities))
	for i, e := range entities {
		models[i] = toStatusHistoryModel(e)
	}
	return models
}
