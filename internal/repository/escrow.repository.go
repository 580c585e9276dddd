package repository

import (
	"context"
	"errors"
	"time"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/pkg/pg"
	"github.com/safepay/escrow-gateway/pkg/ref"
	"gorm.io/gorm"
)

var (
	ErrEscrowNotFound = errors.New("escrow account not found")
	// ErrEscrowNotHeld means release/refund found the holding already
	// settled. The guard keeps a second release from ever re-applying.
	ErrEscrowNotHeld = errors.New("escrow funds are no longer held")
)

type EscrowRepository struct {
	*pg.DB
	refs *ref.Generator
}

func NewEscrowRepository(db *pg.DB, refs *ref.Generator) *EscrowRepository {
	return &EscrowRepository{
		db,
		refs,
	}
}

// Create opens a holding for a transaction with status held. The amount is
// fixed here and never updated afterwards.
func (r *EscrowRepository) Create(ctx context.Context, transactionID int64, amount model.Money) (*model.Escrow, error) {
	entity := &EscrowEntity{
		TransactionID: transactionID,
		Amount:        int64(amount),
		Status:        string(model.EscrowStatusHeld),
	}

	var err error
	for attempt := 0; attempt <= refMaxRetries; attempt++ {
		entity.ID = 0
		entity.EscrowRef = r.refs.Generate("ESC")

		err = r.Write(ctx).WithContext(ctx).Create(entity).Error
		if err == nil {
			return toEscrowModel(entity), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}

	return nil, ErrDuplicateReference
}

func (r *EscrowRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*model.Escrow, error) {
	var entity EscrowEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}

	return toEscrowModel(&entity), nil
}

func (r *EscrowRepository) GetByRef(ctx context.Context, escrowRef string) (*model.Escrow, error) {
	var entity EscrowEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("escrow_ref = ?", escrowRef).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}

	return toEscrowModel(&entity), nil
}

// Release settles the holding in the seller's favor. The status guard is
// part of the UPDATE, so check and write are one statement and a holding
// can never be released twice or released after a refund.
func (r *EscrowRepository) Release(ctx context.Context, transactionID int64, reason string) (*model.Escrow, error) {
	return r.settle(ctx, transactionID, map[string]interface{}{
		"status":         string(model.EscrowStatusReleased),
		"released_at":    time.Now(),
		"release_reason": reason,
	})
}

// Refund settles the holding back to the buyer, symmetric to Release.
func (r *EscrowRepository) Refund(ctx context.Context, transactionID int64, reason string) (*model.Escrow, error) {
	return r.settle(ctx, transactionID, map[string]interface{}{
		"status":        string(model.EscrowStatusRefunded),
		"refunded_at":   time.Now(),
		"refund_reason": reason,
	})
}

func (r *EscrowRepository) settle(ctx context.Context, transactionID int64, updates map[string]interface{}) (*model.Escrow, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&EscrowEntity{}).
		Where("transaction_id = ? AND status = ?", transactionID, string(model.EscrowStatusHeld)).
		Updates(updates)

	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		var entity EscrowEntity
		err := r.Write(ctx).WithContext(ctx).
			Where("transaction_id = ?", transactionID).
			First(&entity).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrEscrowNotHeld
	}

	var entity EscrowEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&entity).
		Error
	if err != nil {
		return nil, err
	}

	return toEscrowModel(&entity), nil
}
