package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/safepay/escrow-gateway/internal/events"
	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/internal/pricing"
	"github.com/safepay/escrow-gateway/internal/repository"
	"github.com/safepay/escrow-gateway/pkg/logger"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrEscrowNotFound      = errors.New("escrow account not found")
	ErrForbidden           = errors.New("access denied")
	ErrInvalidState        = errors.New("transition not allowed from current status")
	ErrInvalidParticipant  = errors.New("referenced user has the wrong role")
	ErrDuplicateReference  = errors.New("could not generate a unique reference")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrTimeout             = errors.New("operation timed out")
	ErrStoreFailure        = errors.New("storage failure")
)

// InsufficientFundsError carries the breakdown shown to the buyer.
// errors.Is(err, ErrInsufficientFunds) matches it.
type InsufficientFundsError struct {
	Required  model.Money
	Available model.Money
	Shortfall model.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	Debit(ctx context.Context, userID int64, amount model.Money) error
	Credit(ctx context.Context, userID int64, amount model.Money) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Transaction, error)
	ListByUser(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	UpdateStatusFrom(ctx context.Context, id int64, from, to model.TransactionStatus) error
}

type EscrowRepository interface {
	Create(ctx context.Context, transactionID int64, amount model.Money) (*model.Escrow, error)
	GetByTransactionID(ctx context.Context, transactionID int64) (*model.Escrow, error)
	Release(ctx context.Context, transactionID int64, reason string) (*model.Escrow, error)
	Refund(ctx context.Context, transactionID int64, reason string) (*model.Escrow, error)
}

type StatusHistoryRepository interface {
	Append(ctx context.Context, h *model.StatusHistory) (*model.StatusHistory, error)
	ListByTransaction(ctx context.Context, transactionID int64) ([]*model.StatusHistory, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev events.TransactionEvent) (string, error)
}

// EscrowService owns the transaction state machine. Every mutating
// operation runs as one atomic unit: wallet movement, status change,
// escrow change and history row commit together or not at all.
type EscrowService struct {
	users     UserRepository
	txns      TransactionRepository
	escrows   EscrowRepository
	history   StatusHistoryRepository
	publisher EventPublisher
}

func NewEscrowService(users UserRepository, txns TransactionRepository, escrows EscrowRepository, history StatusHistoryRepository, publisher EventPublisher) *EscrowService {
	return &EscrowService{
		users:     users,
		txns:      txns,
		escrows:   escrows,
		history:   history,
		publisher: publisher,
	}
}

// TransactionDetail is the full projection of a transaction.
type TransactionDetail struct {
	Transaction   *model.Transaction     `json:"transaction"`
	Escrow        *model.Escrow          `json:"escrow"`
	StatusHistory []*model.StatusHistory `json:"status_history"`
}

// Create opens an escrow transaction: the buyer is charged the total
// (amount + commission) and the funds are parked in a new holding.
func (s *EscrowService) Create(ctx context.Context, buyerID int64, p model.TransactionCreateRequest) (*model.Transaction, *model.Escrow, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	commission, total, err := pricing.ComputeTotals(p.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var (
		createdTxn *model.Transaction
		createdEsc *model.Escrow
	)
	err = s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		// Balance check and debit happen in the same unit, so two
		// concurrent creates against one buyer cannot both pass the
		// check on the same funds.
		buyer, err := s.users.GetByID(ctx, buyerID)
		if err != nil {
			return fmt.Errorf("%w: buyer %d", ErrUserNotFound, buyerID)
		}

		if buyer.WalletBalance < total {
			return &InsufficientFundsError{
				Required:  total,
				Available: buyer.WalletBalance,
				Shortfall: total - buyer.WalletBalance,
			}
		}

		if _, err := s.users.GetByID(ctx, p.SellerID); err != nil {
			return fmt.Errorf("%w: seller %d", ErrUserNotFound, p.SellerID)
		}

		if p.RiderID != nil {
			rider, err := s.users.GetByID(ctx, *p.RiderID)
			if err != nil {
				return fmt.Errorf("%w: rider %d", ErrUserNotFound, *p.RiderID)
			}
			if rider.UserType != model.UserTypeRider {
				return fmt.Errorf("%w: user %d is not a rider", ErrInvalidParticipant, *p.RiderID)
			}
		}

		txn, err := s.txns.Create(ctx, &model.Transaction{
			BuyerID:         buyerID,
			SellerID:        p.SellerID,
			RiderID:         p.RiderID,
			Amount:          p.Amount,
			Commission:      commission,
			TotalAmount:     total,
			Status:          model.TransactionStatusPending,
			ItemDescription: p.ItemDescription,
			ItemCategory:    p.ItemCategory,
			DeliveryAddress: p.DeliveryAddress,
			PaymentMethod:   "wallet",
			Notes:           p.Notes,
		})
		if err != nil {
			return err
		}

		esc, err := s.escrows.Create(ctx, txn.ID, total)
		if err != nil {
			return err
		}

		if err := s.users.Debit(ctx, buyerID, total); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: txn.ID,
			NewStatus:     model.TransactionStatusPending,
			ChangedBy:     buyerID,
			Reason:        "escrow transaction created",
		}); err != nil {
			return err
		}

		createdTxn, createdEsc = txn, esc
		return nil
	})
	if err != nil {
		return nil, nil, s.classify(err)
	}

	logger.Info("escrow transaction created",
		"transaction_ref", createdTxn.TransactionRef,
		"buyer_id", buyerID,
		"total_amount", createdTxn.TotalAmount.String(),
	)
	s.publish(ctx, events.TypeTransactionCreated, createdTxn, buyerID)

	return createdTxn, createdEsc, nil
}

// ConfirmDelivery completes a delivered transaction: status moves to
// completed, the holding is released and the seller is credited the base
// amount. The commission stays with the platform.
func (s *EscrowService) ConfirmDelivery(ctx context.Context, transactionID, buyerID int64) (*model.Transaction, *model.Escrow, error) {
	var (
		updatedTxn *model.Transaction
		updatedEsc *model.Escrow
	)
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if txn.BuyerID != buyerID {
			return fmt.Errorf("%w: only the buyer can confirm delivery", ErrForbidden)
		}

		if txn.Status != model.TransactionStatusDelivered {
			return fmt.Errorf("%w: transaction is %s, not delivered", ErrInvalidState, txn.Status)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, model.TransactionStatusDelivered, model.TransactionStatusCompleted); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     model.TransactionStatusDelivered,
			NewStatus:     model.TransactionStatusCompleted,
			ChangedBy:     buyerID,
			Reason:        "delivery confirmed by buyer",
		}); err != nil {
			return err
		}

		esc, err := s.escrows.Release(ctx, transactionID, "delivery confirmed by buyer")
		if err != nil {
			return err
		}

		// Seller receives the base amount, not the total.
		if err := s.users.Credit(ctx, txn.SellerID, txn.Amount); err != nil {
			return err
		}

		txn.Status = model.TransactionStatusCompleted
		updatedTxn, updatedEsc = txn, esc
		return nil
	})
	if err != nil {
		return nil, nil, s.classify(err)
	}

	logger.Info("delivery confirmed",
		"transaction_ref", updatedTxn.TransactionRef,
		"seller_id", updatedTxn.SellerID,
		"amount", updatedTxn.Amount.String(),
	)
	s.publish(ctx, events.TypeTransactionCompleted, updatedTxn, buyerID)

	return updatedTxn, updatedEsc, nil
}

// RejectDelivery moves a delivered transaction into dispute. Funds stay
// held; resolution happens through the explicit Refund operation.
func (s *EscrowService) RejectDelivery(ctx context.Context, transactionID, buyerID int64, reason string) (*model.Transaction, error) {
	if reason == "" {
		reason = "delivery rejected by buyer"
	}

	var updatedTxn *model.Transaction
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if txn.BuyerID != buyerID {
			return fmt.Errorf("%w: only the buyer can reject delivery", ErrForbidden)
		}

		if txn.Status != model.TransactionStatusDelivered {
			return fmt.Errorf("%w: transaction is %s, not delivered", ErrInvalidState, txn.Status)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, model.TransactionStatusDelivered, model.TransactionStatusDisputed); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     model.TransactionStatusDelivered,
			NewStatus:     model.TransactionStatusDisputed,
			ChangedBy:     buyerID,
			Reason:        reason,
		}); err != nil {
			return err
		}

		txn.Status = model.TransactionStatusDisputed
		updatedTxn = txn
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	logger.Info("delivery rejected",
		"transaction_ref", updatedTxn.TransactionRef,
		"buyer_id", buyerID,
		"reason", reason,
	)
	s.publish(ctx, events.TypeTransactionDisputed, updatedTxn, buyerID)

	return updatedTxn, nil
}

// MarkDelivered records the hand-off: the seller or the rider on the
// transaction moves it from pending to delivered.
func (s *EscrowService) MarkDelivered(ctx context.Context, transactionID, actorID int64) (*model.Transaction, error) {
	var updatedTxn *model.Transaction
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		isCourier := txn.SellerID == actorID || (txn.RiderID != nil && *txn.RiderID == actorID)
		if !isCourier {
			return fmt.Errorf("%w: only the seller or rider can mark delivery", ErrForbidden)
		}

		if txn.Status != model.TransactionStatusPending {
			return fmt.Errorf("%w: transaction is %s, not pending", ErrInvalidState, txn.Status)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, model.TransactionStatusPending, model.TransactionStatusDelivered); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     model.TransactionStatusPending,
			NewStatus:     model.TransactionStatusDelivered,
			ChangedBy:     actorID,
			Reason:        "item marked as delivered",
		}); err != nil {
			return err
		}

		txn.Status = model.TransactionStatusDelivered
		updatedTxn = txn
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.publish(ctx, events.TypeTransactionDelivered, updatedTxn, actorID)

	return updatedTxn, nil
}

// Cancel aborts a transaction before completion. No wallet movement
// happens here; the held funds are returned through Refund.
func (s *EscrowService) Cancel(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, error) {
	if reason == "" {
		reason = "transaction cancelled"
	}

	var updatedTxn *model.Transaction
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if !isParticipant(txn, actorID) {
			return ErrForbidden
		}

		if txn.Status != model.TransactionStatusPending && txn.Status != model.TransactionStatusDelivered {
			return fmt.Errorf("%w: transaction is %s", ErrInvalidState, txn.Status)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, txn.Status, model.TransactionStatusCancelled); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     txn.Status,
			NewStatus:     model.TransactionStatusCancelled,
			ChangedBy:     actorID,
			Reason:        reason,
		}); err != nil {
			return err
		}

		txn.Status = model.TransactionStatusCancelled
		updatedTxn = txn
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.publish(ctx, events.TypeTransactionCancelled, updatedTxn, actorID)

	return updatedTxn, nil
}

// Refund settles a disputed or cancelled transaction back to the buyer:
// status moves to refunded, the holding is refunded and the buyer is
// credited the full total (amount + commission). Refunds never fire
// automatically; this call is the only path.
func (s *EscrowService) Refund(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, *model.Escrow, error) {
	if reason == "" {
		reason = "escrow refunded to buyer"
	}

	var (
		updatedTxn *model.Transaction
		updatedEsc *model.Escrow
	)
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if !isParticipant(txn, actorID) {
			return ErrForbidden
		}

		if txn.Status != model.TransactionStatusDisputed && txn.Status != model.TransactionStatusCancelled {
			return fmt.Errorf("%w: transaction is %s", ErrInvalidState, txn.Status)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, txn.Status, model.TransactionStatusRefunded); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     txn.Status,
			NewStatus:     model.TransactionStatusRefunded,
			ChangedBy:     actorID,
			Reason:        reason,
		}); err != nil {
			return err
		}

		esc, err := s.escrows.Refund(ctx, transactionID, reason)
		if err != nil {
			return err
		}

		// The buyer paid amount + commission, so the full total comes back.
		if err := s.users.Credit(ctx, txn.BuyerID, txn.TotalAmount); err != nil {
			return err
		}

		txn.Status = model.TransactionStatusRefunded
		updatedTxn, updatedEsc = txn, esc
		return nil
	})
	if err != nil {
		return nil, nil, s.classify(err)
	}

	logger.Info("escrow refunded",
		"transaction_ref", updatedTxn.TransactionRef,
		"buyer_id", updatedTxn.BuyerID,
		"total_amount", updatedTxn.TotalAmount.String(),
	)
	s.publish(ctx, events.TypeTransactionRefunded, updatedTxn, actorID)

	return updatedTxn, updatedEsc, nil
}

// UpdateStatus is the audited generic transition. It only accepts edges
// from the legal transition table and refuses wallet-moving targets, which
// have dedicated operations.
func (s *EscrowService) UpdateStatus(ctx context.Context, transactionID, userID int64, newStatus model.TransactionStatus, reason string) (*model.Transaction, error) {
	var updatedTxn *model.Transaction
	err := s.users.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if !isParticipant(txn, userID) {
			return ErrForbidden
		}

		if !model.CanTransition(txn.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, txn.Status, newStatus)
		}

		if err := s.txns.UpdateStatusFrom(ctx, transactionID, txn.Status, newStatus); err != nil {
			return err
		}

		if _, err := s.history.Append(ctx, &model.StatusHistory{
			TransactionID: transactionID,
			OldStatus:     txn.Status,
			NewStatus:     newStatus,
			ChangedBy:     userID,
			Reason:        reason,
		}); err != nil {
			return err
		}

		txn.Status = newStatus
		updatedTxn = txn
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	return updatedTxn, nil
}

// GetByID returns the transaction with its holding and full audit trail.
func (s *EscrowService) GetByID(ctx context.Context, transactionID, userID int64) (*TransactionDetail, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, s.classify(err)
	}

	if !isParticipant(txn, userID) {
		return nil, ErrForbidden
	}

	esc, err := s.escrows.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, s.classify(err)
	}

	history, err := s.history.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.classify(err)
	}

	return &TransactionDetail{
		Transaction:   txn,
		Escrow:        esc,
		StatusHistory: history,
	}, nil
}

// GetByUser lists the transactions a user takes part in, newest first.
func (s *EscrowService) GetByUser(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	txns, total, err := s.txns.ListByUser(ctx, f)
	if err != nil {
		return nil, 0, s.classify(err)
	}
	return txns, total, nil
}

// GetHistory returns the audit trail in chronological order.
func (s *EscrowService) GetHistory(ctx context.Context, transactionID int64) ([]*model.StatusHistory, error) {
	history, err := s.history.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.classify(err)
	}
	return history, nil
}

func isParticipant(txn *model.Transaction, userID int64) bool {
	return txn.BuyerID == userID ||
		txn.SellerID == userID ||
		(txn.RiderID != nil && *txn.RiderID == userID)
}

// classify maps repository and store errors onto the service taxonomy.
// Unknown errors are logged and reported as a generic storage failure so
// schema and query detail never reach callers.
func (s *EscrowService) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidParticipant),
		errors.Is(err, ErrInsufficientFunds):
		return err
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrTransactionNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, repository.ErrEscrowNotFound):
		return ErrEscrowNotFound
	case errors.Is(err, repository.ErrStaleStatus),
		errors.Is(err, repository.ErrEscrowNotHeld):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, repository.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, repository.ErrDuplicateReference):
		return ErrDuplicateReference
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		logger.Error("atomic unit failed", "error", err)
		return ErrStoreFailure
	}
}

func (s *EscrowService) publish(ctx context.Context, eventType string, txn *model.Transaction, actorID int64) {
	if s.publisher == nil {
		return
	}
	ev := events.NewTransactionEvent(eventType, txn, actorID)
	if _, err := s.publisher.Publish(ctx, ev); err != nil {
		// Events drive notifications only; the ledger write already
		// committed, so a publish failure is logged, not surfaced.
		logger.Warn("failed to publish transaction event",
			"event_type", eventType,
			"transaction_ref", txn.TransactionRef,
			"error", err,
		)
	}
}
