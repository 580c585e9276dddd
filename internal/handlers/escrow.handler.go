package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/internal/services"
	xhttp "github.com/safepay/escrow-gateway/pkg/http"
)

type EscrowService interface {
	Create(ctx context.Context, buyerID int64, p model.TransactionCreateRequest) (*model.Transaction, *model.Escrow, error)
	ConfirmDelivery(ctx context.Context, transactionID, buyerID int64) (*model.Transaction, *model.Escrow, error)
	RejectDelivery(ctx context.Context, transactionID, buyerID int64, reason string) (*model.Transaction, error)
	MarkDelivered(ctx context.Context, transactionID, actorID int64) (*model.Transaction, error)
	Cancel(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, error)
	Refund(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, *model.Escrow, error)
	UpdateStatus(ctx context.Context, transactionID, userID int64, newStatus model.TransactionStatus, reason string) (*model.Transaction, error)
	GetByID(ctx context.Context, transactionID, userID int64) (*services.TransactionDetail, error)
	GetByUser(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type EscrowHandler struct {
	svc EscrowService
}

func NewEscrowHandler(svc EscrowService) *EscrowHandler {
	return &EscrowHandler{
		svc: svc,
	}
}

func RegisterEscrowRoutes(e *router.Group, h *EscrowHandler) {
	e.POST("/escrow/transactions", h.CreateTransaction)
	e.GET("/escrow/transactions", h.ListTransactions)
	e.GET("/escrow/transactions/{id}", h.GetTransaction)
	e.POST("/escrow/transactions/{id}/confirm-delivery", h.ConfirmDelivery)
	e.POST("/escrow/transactions/{id}/reject-delivery", h.RejectDelivery)
	e.POST("/escrow/transactions/{id}/mark-delivered", h.MarkDelivered)
	e.POST("/escrow/transactions/{id}/cancel", h.CancelTransaction)
	e.POST("/escrow/transactions/{id}/refund", h.RefundTransaction)
	e.PUT("/escrow/transactions/{id}/status", h.UpdateStatus)
}

type createTransactionRequest struct {
	SellerID        int64       `json:"seller_id"`
	RiderID         *int64      `json:"rider_id,omitempty"`
	Amount          model.Money `json:"amount"`
	ItemDescription string      `json:"item_description"`
	ItemCategory    string      `json:"item_category,omitempty"`
	DeliveryAddress string      `json:"delivery_address,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// envelope is the response shape for every operation.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *EscrowHandler) CreateTransaction(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}

	var req createTransactionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error(), nil)
		return
	}

	txn, esc, err := h.svc.Create(ctx, userID, model.TransactionCreateRequest{
		SellerID:        req.SellerID,
		RiderID:         req.RiderID,
		Amount:          req.Amount,
		ItemDescription: req.ItemDescription,
		ItemCategory:    req.ItemCategory,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 201, "Escrow transaction created successfully", map[string]interface{}{
		"transaction": txn,
		"escrow":      esc,
	})
}

func (h *EscrowHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	detail, err := h.svc.GetByID(ctx, txnID, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "", detail)
}

func (h *EscrowHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}

	f := model.TransactionFilter{UserID: userID}
	if v := query(ctx, "role"); v != "" {
		role := model.UserType(v)
		switch role {
		case model.UserTypeBuyer, model.UserTypeSeller, model.UserTypeRider:
			f.Role = &role
		default:
			writeFailure(ctx, 400, "role must be buyer, seller or rider", nil)
			return
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	txns, total, err := h.svc.GetByUser(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "", map[string]interface{}{
		"transactions": txns,
		"count":        total,
	})
}

func (h *EscrowHandler) ConfirmDelivery(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	txn, esc, err := h.svc.ConfirmDelivery(ctx, txnID, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Delivery confirmed and payment released to seller", map[string]interface{}{
		"transaction": txn,
		"escrow":      esc,
	})
}

func (h *EscrowHandler) RejectDelivery(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req reasonRequest
	_ = readJSON(ctx, &req)

	txn, err := h.svc.RejectDelivery(ctx, txnID, userID, req.Reason)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Delivery rejected. Transaction moved to dispute.", map[string]interface{}{
		"transaction": txn,
	})
}

func (h *EscrowHandler) MarkDelivered(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	txn, err := h.svc.MarkDelivered(ctx, txnID, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Transaction marked as delivered", map[string]interface{}{
		"transaction": txn,
	})
}

func (h *EscrowHandler) CancelTransaction(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req reasonRequest
	_ = readJSON(ctx, &req)

	txn, err := h.svc.Cancel(ctx, txnID, userID, req.Reason)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Transaction cancelled", map[string]interface{}{
		"transaction": txn,
	})
}

func (h *EscrowHandler) RefundTransaction(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req reasonRequest
	_ = readJSON(ctx, &req)

	txn, esc, err := h.svc.Refund(ctx, txnID, userID, req.Reason)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Escrow refunded to buyer", map[string]interface{}{
		"transaction": txn,
		"escrow":      esc,
	})
}

func (h *EscrowHandler) UpdateStatus(ctx *xhttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	txnID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error(), nil)
		return
	}
	if req.Status == "" {
		writeFailure(ctx, 400, "status is required", nil)
		return
	}

	txn, err := h.svc.UpdateStatus(ctx, txnID, userID, model.TransactionStatus(req.Status), req.Reason)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, "Transaction status updated", map[string]interface{}{
		"transaction": txn,
	})
}

/* -------------------------------- Helpers ----------------------------------- */

// callerID reads the authenticated user from the X-User-Id header. Auth
// happens upstream; the core trusts the identity it is handed.
func callerID(ctx *xhttp.RequestCtx) (int64, bool) {
	v := ctx.Request.Header.Peek("X-User-Id")
	if len(v) == 0 {
		writeFailure(ctx, 401, "missing user identity", nil)
		return 0, false
	}
	id, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil || id <= 0 {
		writeFailure(ctx, 401, "invalid user identity", nil)
		return 0, false
	}
	return id, true
}

func pathID(ctx *xhttp.RequestCtx) (int64, bool) {
	v, _ := ctx.UserValue("id").(string)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeFailure(ctx, 400, "invalid transaction id", nil)
		return 0, false
	}
	return id, true
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Storage internals never leak: unknown failures get a generic message.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	var insufficient *services.InsufficientFundsError
	if errors.As(err, &insufficient) {
		writeFailure(ctx, 400, "Insufficient wallet balance", map[string]interface{}{
			"required":  insufficient.Required,
			"available": insufficient.Available,
			"shortfall": insufficient.Shortfall,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrValidation):
		writeFailure(ctx, 400, err.Error(), nil)
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrEscrowNotFound):
		writeFailure(ctx, 404, err.Error(), nil)
	case errors.Is(err, services.ErrForbidden):
		writeFailure(ctx, 403, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrInvalidParticipant),
		errors.Is(err, services.ErrInsufficientFunds):
		writeFailure(ctx, 400, err.Error(), nil)
	case errors.Is(err, services.ErrTimeout):
		writeFailure(ctx, 504, "operation timed out", nil)
	default:
		writeFailure(ctx, 500, "internal error", nil)
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func writeSuccess(ctx *xhttp.RequestCtx, status int, message string, data interface{}) {
	writeJSON(ctx, status, envelope{Success: true, Message: message, Data: data})
}

func writeFailure(ctx *xhttp.RequestCtx, status int, message string, data interface{}) {
	writeJSON(ctx, status, envelope{Success: false, Message: message, Data: data})
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}
