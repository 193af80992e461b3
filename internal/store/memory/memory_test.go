package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
)

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	s.Seed()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		item := domain.OrderItem{OrderID: 1, ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("50000.00")}
		require.NoError(t, tx.CreateOrderItem(ctx, &item))
		_, err := tx.DecrementStock(ctx, 1, 2)
		require.NoError(t, err)
		require.NoError(t, tx.SetOrderTotal(ctx, 1, decimal.RequireFromString("100000.00")))
		require.NoError(t, tx.AppendOutbox(ctx, "t", contracts.Event{EventID: "e1", OrderID: 1}))
		require.NoError(t, tx.SaveIdempotentResult(ctx, "k", store.IdempotentRecord{OrderID: 1, ProductID: 1, Quantity: 2, Body: []byte(`{}`)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)

	o, err := s.Order(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, o.Items)
	assert.True(t, o.TotalAmount.IsZero())
	assert.Empty(t, s.Outbox())

	_, err = s.IdempotentResult(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommitPublishesWrites(t *testing.T) {
	s := New()
	s.Seed()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		item := domain.OrderItem{OrderID: 1, ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("80000.00")}
		if err := tx.CreateOrderItem(ctx, &item); err != nil {
			return err
		}
		total, err := tx.SumOrderItems(ctx, 1)
		if err != nil {
			return err
		}
		return tx.SetOrderTotal(ctx, 1, total)
	})
	require.NoError(t, err)

	o, err := s.Order(ctx, 1)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Laptop", o.Items[0].ProductName)
	assert.Equal(t, "80000.00", o.TotalAmount.StringFixed(2))
}

func TestDuplicateLineAndKey(t *testing.T) {
	s := New()
	s.Seed()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := domain.OrderItem{OrderID: 1, ProductID: 1, Quantity: 1}
		require.NoError(t, tx.CreateOrderItem(ctx, &a))
		b := domain.OrderItem{OrderID: 1, ProductID: 1, Quantity: 1}
		assert.ErrorIs(t, tx.CreateOrderItem(ctx, &b), store.ErrDuplicate)

		rec := store.IdempotentRecord{OrderID: 1, ProductID: 1, Quantity: 1, Body: []byte(`{}`)}
		require.NoError(t, tx.SaveIdempotentResult(ctx, "k", rec))
		other := store.IdempotentRecord{OrderID: 1, ProductID: 2, Quantity: 3, Body: []byte(`{"x":1}`)}
		assert.ErrorIs(t, tx.SaveIdempotentResult(ctx, "k", other), store.ErrDuplicate)
		return nil
	})
	require.NoError(t, err)

	rec, err := s.IdempotentResult(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID(1), rec.OrderID)
	assert.Equal(t, domain.ProductID(1), rec.ProductID)
	assert.Equal(t, 1, rec.Quantity)
	assert.Equal(t, []byte(`{}`), rec.Body)
}

func TestDecrementGuard(t *testing.T) {
	s := New()
	s.Seed()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		left, err := tx.DecrementStock(ctx, 2, 6)
		assert.ErrorIs(t, err, store.ErrStockConflict)
		assert.Equal(t, 5, left)

		_, err = tx.DecrementStock(ctx, 99, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestOutboxDrain(t *testing.T) {
	s := New()
	s.Seed()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"e1", "e2", "e3"} {
			if err := tx.AppendOutbox(ctx, "orders", contracts.Event{EventID: id, OrderID: 1}); err != nil {
				return err
			}
		}
		return nil
	}))

	pending, err := s.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].EventID)
	assert.Equal(t, "1", pending[0].Key)

	require.NoError(t, s.MarkSent(ctx, pending[0].ID))
	pending, err = s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e2", pending[0].EventID)

	assert.ErrorIs(t, s.MarkSent(ctx, 99), store.ErrNotFound)
}

func TestSetPriceUnknownProduct(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.SetPrice(5, decimal.NewFromInt(1)), store.ErrNotFound)
}
