package repository

import (
	"context"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/pkg/pg"
)

// StatusHistoryRepository is append-only: rows are inserted once per
// transition and never updated or deleted.
type StatusHistoryRepository struct {
	*pg.DB
}

func NewStatusHistoryRepository(db *pg.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{
		db,
	}
}

func (r *StatusHistoryRepository) Append(ctx context.Context, h *model.StatusHistory) (*model.StatusHistory, error) {
	entity := &StatusHistoryEntity{
		TransactionID: h.TransactionID,
		OldStatus:     string(h.OldStatus),
		NewStatus:     string(h.NewStatus),
		ChangedBy:     h.ChangedBy,
		Reason:        h.Reason,
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toStatusHistoryModel(entity), nil
}

// ListByTransaction returns the audit trail in chronological order.
func (r *StatusHistoryRepository) ListByTransaction(ctx context.Context, transactionID int64) ([]*model.StatusHistory, error) {
	var entities []*StatusHistoryEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC, id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toStatusHistoryModels(entities), nil
}
