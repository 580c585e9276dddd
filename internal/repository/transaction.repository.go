package repository

import (
	"context"
	"errors"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/pkg/pg"
	"github.com/safepay/escrow-gateway/pkg/ref"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("reference collision retries exhausted")
	// ErrStaleStatus means a guarded status update matched no row: the
	// transaction moved out of the expected status since it was read.
	ErrStaleStatus = errors.New("transaction status changed concurrently")
)

// refMaxRetries bounds regeneration when a generated reference collides
// with an existing row.
const refMaxRetries = 3

type TransactionRepository struct {
	*pg.DB
	refs *ref.Generator
}

func NewTransactionRepository(db *pg.DB, refs *ref.Generator) *TransactionRepository {
	return &TransactionRepository{
		db,
		refs,
	}
}

// Create inserts the transaction with a freshly generated reference,
// regenerating on a uniqueness collision.
func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	var err error
	for attempt := 0; attempt <= refMaxRetries; attempt++ {
		entity.ID = 0
		entity.TransactionRef = r.refs.Generate("TXN")

		err = r.Write(ctx).WithContext(ctx).Create(entity).Error
		if err == nil {
			return toTransactionModel(entity), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}

	return nil, ErrDuplicateReference
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) GetByRef(ctx context.Context, transactionRef string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("transaction_ref = ?", transactionRef).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

// GetForUpdate loads the transaction under a row lock. Call inside an
// atomic unit before a terminal transition so racing writers serialize.
func (r *TransactionRepository) GetForUpdate(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

// ListByUser returns the transactions a user participates in, newest
// first, optionally narrowed to a single role.
func (r *TransactionRepository) ListByUser(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{})

	if f.Role != nil {
		switch *f.Role {
		case model.UserTypeBuyer:
			q = q.Where("buyer_id = ?", f.UserID)
		case model.UserTypeSeller:
			q = q.Where("seller_id = ?", f.UserID)
		case model.UserTypeRider:
			q = q.Where("rider_id = ?", f.UserID)
		}
	} else {
		q = q.Where("buyer_id = ? OR seller_id = ? OR rider_id = ?", f.UserID, f.UserID, f.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}

// UpdateStatusFrom moves the transaction from an expected status to a new
// one. The expected status is part of the WHERE clause, so the stale
// writer in a race matches zero rows and gets ErrStaleStatus instead of
// double-applying the transition.
func (r *TransactionRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to model.TransactionStatus) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var entity TransactionEntity
		err := r.Write(ctx).WithContext(ctx).
			Select("id").
			Where("id = ?", id).
			First(&entity).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		return ErrStaleStatus
	}

	return nil
}
