package model

import (
	"errors"
	"time"
)

// TransactionStatus is the lifecycle state of an escrow transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusDelivered TransactionStatus = "delivered"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusDisputed  TransactionStatus = "disputed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// legalTransitions holds the edges the generic status update is allowed to
// take. Wallet-moving edges (into completed and refunded) are excluded here
// on purpose: those must go through ConfirmDelivery / Refund so the wallet
// and escrow side effects happen in the same atomic unit.
var legalTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusDelivered, TransactionStatusCancelled},
	TransactionStatusDelivered: {TransactionStatusDisputed, TransactionStatusCancelled},
}

// CanTransition reports whether the generic status update may move a
// transaction from one status to another.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID              int64             `json:"id"`
	TransactionRef  string            `json:"transaction_ref"`
	BuyerID         int64             `json:"buyer_id"`
	SellerID        int64             `json:"seller_id"`
	RiderID         *int64            `json:"rider_id,omitempty"`
	Amount          Money             `json:"amount"`
	Commission      Money             `json:"commission"`
	TotalAmount     Money             `json:"total_amount"`
	Status          TransactionStatus `json:"status"`
	ItemDescription string            `json:"item_description"`
	ItemCategory    string            `json:"item_category,omitempty"`
	DeliveryAddress string            `json:"delivery_address,omitempty"`
	PaymentMethod   string            `json:"payment_method"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// TransactionCreateRequest is the input for opening an escrow transaction.
type TransactionCreateRequest struct {
	SellerID        int64
	RiderID         *int64
	Amount          Money
	ItemDescription string
	ItemCategory    string
	DeliveryAddress string
	Notes           string
}

func (p TransactionCreateRequest) Validate() error {
	if p.SellerID == 0 {
		return errors.New("seller_id is required")
	}
	if p.Amount <= 0 {
		return errors.New("amount must be a positive value")
	}
	if p.ItemDescription == "" {
		return errors.New("item_description is required")
	}
	return nil
}

// TransactionFilter controls user-scoped listing.
type TransactionFilter struct {
	UserID int64
	Role   *UserType // buyer / seller / rider; nil matches any role
	Limit  int
	Offset int
}
