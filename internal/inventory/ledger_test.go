package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-orders-go/internal/inventory"
	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/internal/store/memory"
)

func newStore(qty int) *memory.Store {
	mem := memory.New()
	mem.PutProduct(domain.Product{ID: 1, Name: "Smartphone", Quantity: qty, Price: decimal.RequireFromString("50000.00")})
	return mem
}

func TestLookupUnknownProduct(t *testing.T) {
	mem := newStore(3)
	l := inventory.NewLedger()

	err := mem.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := l.Lookup(ctx, tx, 2)
		return err
	})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.SubjectProduct, nf.Subject)
	assert.Equal(t, int64(2), nf.ID)
}

func TestCheckAvailable(t *testing.T) {
	l := inventory.NewLedger()
	p := domain.Product{ID: 1, Quantity: 5}

	avail, err := l.CheckAvailable(p, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, avail)

	_, err = l.CheckAvailable(p, 6)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)
	assert.False(t, stockErr.Merge())
}

func TestCommitDecrements(t *testing.T) {
	mem := newStore(5)
	l := inventory.NewLedger()

	var left int
	err := mem.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := l.Lookup(ctx, tx, 1)
		if err != nil {
			return err
		}
		left, err = l.Commit(ctx, tx, p, 5)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	p, err := mem.Product(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)
}

func TestCommitRefusesOverdraw(t *testing.T) {
	mem := newStore(2)
	l := inventory.NewLedger()

	err := mem.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := l.Lookup(ctx, tx, 1)
		if err != nil {
			return err
		}
		_, err = l.Commit(ctx, tx, p, 3)
		return err
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	p, err := mem.Product(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity)
}

// A stale product value must not bypass the store-side guard.
func TestCommitWithStaleProduct(t *testing.T) {
	mem := newStore(1)
	l := inventory.NewLedger()

	err := mem.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := l.Commit(ctx, tx, domain.Product{ID: 1, Quantity: 10}, 4)
		return err
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.False(t, errors.Is(err, store.ErrStockConflict))

	p, err := mem.Product(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Quantity)
}
