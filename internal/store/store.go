// Package store defines the storage contract shared by the Postgres and memory
// implementations. All mutations happen inside Tx, which must give at least
// row-level serialisation on orders and products for the whole read-check-write
// sequence.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrStockConflict = errors.New("store: stock conflict")
	ErrDuplicate     = errors.New("store: duplicate key")
)

// IdempotentRecord binds an Idempotency-Key to the request it was first used
// with and the result that request produced.
type IdempotentRecord struct {
	OrderID   domain.OrderID
	ProductID domain.ProductID
	Quantity  int
	Body      []byte
}

type Store interface {
	// InTx runs fn in a single transaction. A non-nil error from fn rolls back
	// every write made through tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Order(ctx context.Context, id domain.OrderID) (domain.OrderView, error)
	Product(ctx context.Context, id domain.ProductID) (domain.ProductView, error)
	// IdempotentResult returns ErrNotFound for an unknown key.
	IdempotentResult(ctx context.Context, key string) (IdempotentRecord, error)
	Ping(ctx context.Context) error
}

type Tx interface {
	// LockOrder reads the order and holds it until the transaction ends.
	LockOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)
	// LockProduct reads the product and holds it until the transaction ends.
	LockProduct(ctx context.Context, id domain.ProductID) (domain.Product, error)

	FindOrderItem(ctx context.Context, orderID domain.OrderID, productID domain.ProductID) (domain.OrderItem, error)
	// CreateOrderItem inserts the line and fills in ID and CreatedAt.
	CreateOrderItem(ctx context.Context, item *domain.OrderItem) error
	SetOrderItemQuantity(ctx context.Context, id domain.ItemID, quantity int) error

	// DecrementStock subtracts qty and returns the remaining quantity. It
	// returns ErrStockConflict instead of letting the quantity go negative.
	DecrementStock(ctx context.Context, id domain.ProductID, qty int) (int, error)

	SumOrderItems(ctx context.Context, orderID domain.OrderID) (decimal.Decimal, error)
	SetOrderTotal(ctx context.Context, orderID domain.OrderID, total decimal.Decimal) error

	// SaveIdempotentResult returns ErrDuplicate when key is already bound.
	SaveIdempotentResult(ctx context.Context, key string, rec IdempotentRecord) error
	AppendOutbox(ctx context.Context, topic string, evt contracts.Event) error
}
