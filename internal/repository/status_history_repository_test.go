package repository

import (
	"context"
	"testing"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHistoryRepository_Append(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewStatusHistoryRepository(db)
	ctx := context.Background()

	row, err := repo.Append(ctx, &model.StatusHistory{
		TransactionID: 1,
		NewStatus:     model.TransactionStatusPending,
		ChangedBy:     10,
		Reason:        "escrow transaction created",
	})
	require.NoError(t, err)
	assert.NotZero(t, row.ID)
	assert.Equal(t, model.TransactionStatus(""), row.OldStatus)
	assert.Equal(t, model.TransactionStatusPending, row.NewStatus)
}

func TestStatusHistoryRepository_ListByTransaction(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewStatusHistoryRepository(db)
	ctx := context.Background()

	transitions := []struct {
		old model.TransactionStatus
		new model.TransactionStatus
	}{
		{"", model.TransactionStatusPending},
		{model.TransactionStatusPending, model.TransactionStatusDelivered},
		{model.TransactionStatusDelivered, model.TransactionStatusCompleted},
	}
	for _, tr := range transitions {
		_, err := repo.Append(ctx, &model.StatusHistory{
			TransactionID: 1,
			OldStatus:     tr.old,
			NewStatus:     tr.new,
			ChangedBy:     10,
		})
		require.NoError(t, err)
	}

	// a different transaction's rows should not leak in
	_, err := repo.Append(ctx, &model.StatusHistory{
		TransactionID: 2,
		NewStatus:     model.TransactionStatusPending,
		ChangedBy:     11,
	})
	require.NoError(t, err)

	rows, err := repo.ListByTransaction(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// chronological order, oldest first
	assert.Equal(t, model.TransactionStatusPending, rows[0].NewStatus)
	assert.Equal(t, model.TransactionStatusDelivered, rows[1].NewStatus)
	assert.Equal(t, model.TransactionStatusCompleted, rows[2].NewStatus)

	empty, err := repo.ListByTransaction(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
