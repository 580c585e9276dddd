package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockEscrowService struct {
	mock.Mock
}

func (m *MockEscrowService) Create(ctx context.Context, buyerID int64, p model.TransactionCreateRequest) (*model.Transaction, *model.Escrow, error) {
	args := m.Called(ctx, buyerID, p)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Transaction), args.Get(1).(*model.Escrow), args.Error(2)
}

func (m *MockEscrowService) ConfirmDelivery(ctx context.Context, transactionID, buyerID int64) (*model.Transaction, *model.Escrow, error) {
	args := m.Called(ctx, transactionID, buyerID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Transaction), args.Get(1).(*model.Escrow), args.Error(2)
}

func (m *MockEscrowService) RejectDelivery(ctx context.Context, transactionID, buyerID int64, reason string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, buyerID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockEscrowService) MarkDelivered(ctx context.Context, transactionID, actorID int64) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockEscrowService) Cancel(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockEscrowService) Refund(ctx context.Context, transactionID, actorID int64, reason string) (*model.Transaction, *model.Escrow, error) {
	args := m.Called(ctx, transactionID, actorID, reason)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Transaction), args.Get(1).(*model.Escrow), args.Error(2)
}

func (m *MockEscrowService) UpdateStatus(ctx context.Context, transactionID, userID int64, newStatus model.TransactionStatus, reason string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, userID, newStatus, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockEscrowService) GetByID(ctx context.Context, transactionID, userID int64) (*services.TransactionDetail, error) {
	args := m.Called(ctx, transactionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TransactionDetail), args.Error(1)
}

func (m *MockEscrowService) GetByUser(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func newRequestCtx(method, uri string, userID string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if userID != "" {
		ctx.Request.Header.Set("X-User-Id", userID)
	}
	if body != nil {
		ctx.Request.SetBody(body)
		ctx.Request.Header.SetContentType("application/json")
	}
	return ctx
}

func decodeEnvelope(t *testing.T, ctx *fasthttp.RequestCtx) envelope {
	var env envelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	return env
}

func sampleTransaction() *model.Transaction {
	return &model.Transaction{
		ID:             7,
		TransactionRef: "TXN-ABC-123456",
		BuyerID:        1,
		SellerID:       2,
		Amount:         model.Money(10000),
		Commission:     model.Money(200),
		TotalAmount:    model.Money(10200),
		Status:         model.TransactionStatusPending,
	}
}

func sampleEscrow() *model.Escrow {
	return &model.Escrow{
		ID:            3,
		EscrowRef:     "ESC-ABC-123456",
		TransactionID: 7,
		Amount:        model.Money(10200),
		Status:        model.EscrowStatusHeld,
	}
}

func TestEscrowHandler_CreateTransaction(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("Create", mock.Anything, int64(1), mock.AnythingOfType("model.TransactionCreateRequest")).
			Return(sampleTransaction(), sampleEscrow(), nil)

		body := []byte(`{"seller_id":2,"amount":100.00,"item_description":"wireless earbuds"}`)
		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions", "1", body)

		h.CreateTransaction(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.True(t, env.Success)
		assert.Contains(t, env.Message, "created")
		svc.AssertExpectations(t)
	})

	t.Run("missing identity header", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions", "", []byte(`{}`))
		h.CreateTransaction(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions", "1", []byte(`{not json`))
		h.CreateTransaction(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("insufficient funds carries breakdown", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("Create", mock.Anything, int64(1), mock.Anything).
			Return(nil, nil, &services.InsufficientFundsError{
				Required:  model.Money(10200),
				Available: model.Money(5000),
				Shortfall: model.Money(5200),
			})

		body := []byte(`{"seller_id":2,"amount":100.00,"item_description":"wireless earbuds"}`)
		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions", "1", body)
		h.CreateTransaction(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.False(t, env.Success)
		data := env.Data.(map[string]interface{})
		assert.Equal(t, 102.00, data["required"])
		assert.Equal(t, 50.00, data["available"])
		assert.Equal(t, 52.00, data["shortfall"])
	})

	t.Run("validation error maps to 400", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("Create", mock.Anything, int64(1), mock.Anything).
			Return(nil, nil, services.ErrValidation)

		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions", "1", []byte(`{}`))
		h.CreateTransaction(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestEscrowHandler_GetTransaction(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("GetByID", mock.Anything, int64(7), int64(1)).
			Return(&services.TransactionDetail{Transaction: sampleTransaction(), Escrow: sampleEscrow()}, nil)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions/7", "1", nil)
		ctx.SetUserValue("id", "7")
		h.GetTransaction(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.True(t, env.Success)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("GetByID", mock.Anything, int64(42), int64(1)).
			Return(nil, services.ErrTransactionNotFound)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions/42", "1", nil)
		ctx.SetUserValue("id", "42")
		h.GetTransaction(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})

	t.Run("forbidden maps to 403", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("GetByID", mock.Anything, int64(7), int64(9)).
			Return(nil, services.ErrForbidden)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions/7", "9", nil)
		ctx.SetUserValue("id", "7")
		h.GetTransaction(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})

	t.Run("bad path id", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions/abc", "1", nil)
		ctx.SetUserValue("id", "abc")
		h.GetTransaction(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestEscrowHandler_ListTransactions(t *testing.T) {
	t.Run("role filter", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		role := model.UserTypeBuyer
		svc.On("GetByUser", mock.Anything, model.TransactionFilter{UserID: 1, Role: &role, Limit: 10}).
			Return([]*model.Transaction{sampleTransaction()}, int64(1), nil)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions?role=buyer&limit=10", "1", nil)
		h.ListTransactions(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("bad role", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		ctx := newRequestCtx("GET", "/api/v1/escrow/transactions?role=admin", "1", nil)
		h.ListTransactions(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "GetByUser", mock.Anything, mock.Anything)
	})
}

func TestEscrowHandler_ConfirmDelivery(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		completed := sampleTransaction()
		completed.Status = model.TransactionStatusCompleted
		released := sampleEscrow()
		released.Status = model.EscrowStatusReleased

		svc.On("ConfirmDelivery", mock.Anything, int64(7), int64(1)).
			Return(completed, released, nil)

		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions/7/confirm-delivery", "1", nil)
		ctx.SetUserValue("id", "7")
		h.ConfirmDelivery(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.True(t, env.Success)
		assert.Contains(t, env.Message, "released")
	})

	t.Run("invalid state maps to 400", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		svc.On("ConfirmDelivery", mock.Anything, int64(7), int64(1)).
			Return(nil, nil, services.ErrInvalidState)

		ctx := newRequestCtx("POST", "/api/v1/escrow/transactions/7/confirm-delivery", "1", nil)
		ctx.SetUserValue("id", "7")
		h.ConfirmDelivery(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestEscrowHandler_RejectDelivery(t *testing.T) {
	svc := new(MockEscrowService)
	h := NewEscrowHandler(svc)

	disputed := sampleTransaction()
	disputed.Status = model.TransactionStatusDisputed

	svc.On("RejectDelivery", mock.Anything, int64(7), int64(1), "item arrived broken").
		Return(disputed, nil)

	body := []byte(`{"reason":"item arrived broken"}`)
	ctx := newRequestCtx("POST", "/api/v1/escrow/transactions/7/reject-delivery", "1", body)
	ctx.SetUserValue("id", "7")
	h.RejectDelivery(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	svc.AssertExpectations(t)
}

func TestEscrowHandler_RefundTransaction(t *testing.T) {
	svc := new(MockEscrowService)
	h := NewEscrowHandler(svc)

	refunded := sampleTransaction()
	refunded.Status = model.TransactionStatusRefunded
	esc := sampleEscrow()
	esc.Status = model.EscrowStatusRefunded

	svc.On("Refund", mock.Anything, int64(7), int64(1), "").
		Return(refunded, esc, nil)

	ctx := newRequestCtx("POST", "/api/v1/escrow/transactions/7/refund", "1", nil)
	ctx.SetUserValue("id", "7")
	h.RefundTransaction(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	env := decodeEnvelope(t, ctx)
	assert.True(t, env.Success)
}

func TestEscrowHandler_UpdateStatus(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		delivered := sampleTransaction()
		delivered.Status = model.TransactionStatusDelivered

		svc.On("UpdateStatus", mock.Anything, int64(7), int64(2), model.TransactionStatusDelivered, "handed over").
			Return(delivered, nil)

		body := []byte(`{"status":"delivered","reason":"handed over"}`)
		ctx := newRequestCtx("PUT", "/api/v1/escrow/transactions/7/status", "2", body)
		ctx.SetUserValue("id", "7")
		h.UpdateStatus(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})

	t.Run("missing status", func(t *testing.T) {
		svc := new(MockEscrowService)
		h := NewEscrowHandler(svc)

		ctx := newRequestCtx("PUT", "/api/v1/escrow/transactions/7/status", "2", []byte(`{}`))
		ctx.SetUserValue("id", "7")
		h.UpdateStatus(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
