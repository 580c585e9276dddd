package repository

import (
	"time"

	"github.com/safepay/escrow-gateway/internal/model"
)

type TransactionEntity struct {
	ID              int64     `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	TransactionRef  string    `db:"transaction_ref"  gorm:"column:transaction_ref;not null;unique"`
	BuyerID         int64     `db:"buyer_id"         gorm:"column:buyer_id;not null;index"`
	SellerID        int64     `db:"seller_id"        gorm:"column:seller_id;not null;index"`
	RiderID         *int64    `db:"rider_id"         gorm:"column:rider_id;index"`
	Amount          int64     `db:"amount"           gorm:"column:amount;not null"`
	Commission      int64     `db:"commission"       gorm:"column:commission;not null"`
	TotalAmount     int64     `db:"total_amount"     gorm:"column:total_amount;not null"`
	Status          string    `db:"status"           gorm:"column:status;not null;index"`
	ItemDescription string    `db:"item_description" gorm:"column:item_description;not null"`
	ItemCategory    string    `db:"item_category"    gorm:"column:item_category"`
	DeliveryAddress string    `db:"delivery_address" gorm:"column:delivery_address"`
	PaymentMethod   string    `db:"payment_method"   gorm:"column:payment_method;not null"`
	Notes           string    `db:"notes"            gorm:"column:notes"`
	CreatedAt       time.Time `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:              m.ID,
		TransactionRef:  m.TransactionRef,
		BuyerID:         m.BuyerID,
		SellerID:        m.SellerID,
		RiderID:         m.RiderID,
		Amount:          int64(m.Amount),
		Commission:      int64(m.Commission),
		TotalAmount:     int64(m.TotalAmount),
		Status:          string(m.Status),
		ItemDescription: m.ItemDescription,
		ItemCategory:    m.ItemCategory,
		DeliveryAddress: m.DeliveryAddress,
		PaymentMethod:   m.PaymentMethod,
		Notes:           m.Notes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:              e.ID,
		TransactionRef:  e.TransactionRef,
		BuyerID:         e.BuyerID,
		SellerID:        e.SellerID,
		RiderID:         e.RiderID,
		Amount:          model.Money(e.Amount),
		Commission:      model.Money(e.Commission),
		TotalAmount:     model.Money(e.TotalAmount),
		Status:          model.TransactionStatus(e.Status),
		ItemDescription: e.ItemDescription,
		ItemCategory:    e.ItemCategory,
		DeliveryAddress: e.DeliveryAddress,
		PaymentMethod:   e.PaymentMethod,
		Notes:           e.Notes,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
