// Package inventory owns product stock. Every read used for a stock decision
// is taken under the product row lock of the surrounding transaction, so the
// check and the decrement always see the same quantity.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
)

type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Lookup locks the product row and returns its current state.
func (l *Ledger) Lookup(ctx context.Context, tx store.Tx, id domain.ProductID) (domain.Product, error) {
	p, err := tx.LockProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, domain.NotFound(domain.SubjectProduct, int64(id))
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("lock product %d: %w", id, err)
	}
	return p, nil
}

// CheckAvailable returns the available quantity of p, or an
// InsufficientStockError when it is below required.
func (l *Ledger) CheckAvailable(p domain.Product, required int) (int, error) {
	if p.Quantity < required {
		return p.Quantity, &domain.InsufficientStockError{
			ProductID: p.ID,
			Requested: required,
			Available: p.Quantity,
		}
	}
	return p.Quantity, nil
}

// Commit decrements the stock of p by qty and returns what is left.
func (l *Ledger) Commit(ctx context.Context, tx store.Tx, p domain.Product, qty int) (int, error) {
	if qty > p.Quantity {
		return p.Quantity, &domain.InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Quantity}
	}
	left, err := tx.DecrementStock(ctx, p.ID, qty)
	switch {
	case errors.Is(err, store.ErrStockConflict):
		// the row lock makes this unreachable unless the store is misused
		return p.Quantity, &domain.InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Quantity}
	case errors.Is(err, store.ErrNotFound):
		return 0, domain.NotFound(domain.SubjectProduct, int64(p.ID))
	case err != nil:
		return 0, fmt.Errorf("decrement stock of product %d: %w", p.ID, err)
	}
	return left, nil
}
