package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/pkg/ref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewEscrowRepository(db, ref.NewGenerator())
	ctx := context.Background()

	t.Run("opens a held holding", func(t *testing.T) {
		esc, err := repo.Create(ctx, 1, model.Money(10200))
		require.NoError(t, err)
		assert.NotZero(t, esc.ID)
		assert.True(t, strings.HasPrefix(esc.EscrowRef, "ESC-"))
		assert.Equal(t, model.EscrowStatusHeld, esc.Status)
		assert.Equal(t, model.Money(10200), esc.Amount)
		assert.Nil(t, esc.ReleasedAt)
		assert.Nil(t, esc.RefundedAt)
	})

	t.Run("one holding per transaction", func(t *testing.T) {
		_, err := repo.Create(ctx, 2, model.Money(5000))
		require.NoError(t, err)

		_, err = repo.Create(ctx, 2, model.Money(5000))
		assert.Error(t, err)
	})
}

func TestEscrowRepository_GetByTransactionID(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewEscrowRepository(db, ref.NewGenerator())
	ctx := context.Background()

	created, err := repo.Create(ctx, 1, model.Money(10200))
	require.NoError(t, err)

	got, err := repo.GetByTransactionID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created.EscrowRef, got.EscrowRef)

	_, err = repo.GetByTransactionID(ctx, 999)
	assert.ErrorIs(t, err, ErrEscrowNotFound)
}

func TestEscrowRepository_Release(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewEscrowRepository(db, ref.NewGenerator())
	ctx := context.Background()

	t.Run("releases a held holding", func(t *testing.T) {
		_, err := repo.Create(ctx, 1, model.Money(10200))
		require.NoError(t, err)

		esc, err := repo.Release(ctx, 1, "delivery confirmed by buyer")
		require.NoError(t, err)
		assert.Equal(t, model.EscrowStatusReleased, esc.Status)
		assert.NotNil(t, esc.ReleasedAt)
		assert.Equal(t, "delivery confirmed by buyer", esc.ReleaseReason)
	})

	t.Run("double release is refused", func(t *testing.T) {
		_, err := repo.Create(ctx, 2, model.Money(5000))
		require.NoError(t, err)

		_, err = repo.Release(ctx, 2, "first")
		require.NoError(t, err)

		_, err = repo.Release(ctx, 2, "second")
		assert.ErrorIs(t, err, ErrEscrowNotHeld)
	})

	t.Run("release after refund is refused", func(t *testing.T) {
		_, err := repo.Create(ctx, 3, model.Money(5000))
		require.NoError(t, err)

		_, err = repo.Refund(ctx, 3, "dispute resolved")
		require.NoError(t, err)

		_, err = repo.Release(ctx, 3, "late release")
		assert.ErrorIs(t, err, ErrEscrowNotHeld)
	})

	t.Run("no holding", func(t *testing.T) {
		_, err := repo.Release(ctx, 999, "nothing here")
		assert.ErrorIs(t, err, ErrEscrowNotFound)
	})
}

func TestEscrowRepository_Refund(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewEscrowRepository(db, ref.NewGenerator())
	ctx := context.Background()

	t.Run("refunds a held holding", func(t *testing.T) {
		_, err := repo.Create(ctx, 1, model.Money(10200))
		require.NoError(t, err)

		esc, err := repo.Refund(ctx, 1, "buyer refunded after dispute")
		require.NoError(t, err)
		assert.Equal(t, model.EscrowStatusRefunded, esc.Status)
		assert.NotNil(t, esc.RefundedAt)
		assert.Equal(t, "buyer refunded after dispute", esc.RefundReason)
	})

	t.Run("double refund is refused", func(t *testing.T) {
		_, err := repo.Create(ctx, 2, model.Money(5000))
		require.NoError(t, err)

		_, err = repo.Refund(ctx, 2, "first")
		require.NoError(t, err)

		_, err = repo.Refund(ctx, 2, "second")
		assert.ErrorIs(t, err, ErrEscrowNotHeld)
	})
}
