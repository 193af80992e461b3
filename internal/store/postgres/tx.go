package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
	"github.com/nazeru/tx-lab-orders-go/pkg/outbox"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var o domain.Order
	err := t.tx.QueryRow(ctx,
		`SELECT id, client_id, order_date, status, total_amount, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, int64(id),
	).Scan(&o.ID, &o.ClientID, &o.OrderDate, &o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, notFound(err)
	}
	return o, nil
}

func (t *pgTx) LockProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	var p domain.Product
	var categoryID *int64
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, quantity, price, category_id, created_at, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, int64(id),
	).Scan(&p.ID, &p.Name, &p.Quantity, &p.Price, &categoryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, notFound(err)
	}
	p.CategoryID = categoryRef(categoryID)
	return p, nil
}

func (t *pgTx) FindOrderItem(ctx context.Context, orderID domain.OrderID, productID domain.ProductID) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := t.tx.QueryRow(ctx,
		`SELECT id, order_id, product_id, quantity, price, created_at
		FROM order_items WHERE order_id=$1 AND product_id=$2 FOR UPDATE`, int64(orderID), int64(productID),
	).Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt)
	if err != nil {
		return domain.OrderItem{}, notFound(err)
	}
	return it, nil
}

func (t *pgTx) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO order_items(order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		int64(item.OrderID), int64(item.ProductID), item.Quantity, item.Price,
	).Scan(&item.ID, &item.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) SetOrderItemQuantity(ctx context.Context, id domain.ItemID, quantity int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE order_items SET quantity=$2 WHERE id=$1`, int64(id), quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) DecrementStock(ctx context.Context, id domain.ProductID, qty int) (int, error) {
	var left int
	err := t.tx.QueryRow(ctx,
		`UPDATE products SET quantity = quantity - $2, updated_at = now()
		WHERE id=$1 AND quantity >= $2 RETURNING quantity`, int64(id), qty,
	).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, int64(id)).Scan(&exists); qerr != nil {
			return 0, qerr
		}
		if !exists {
			return 0, store.ErrNotFound
		}
		return 0, store.ErrStockConflict
	}
	if err != nil {
		return 0, err
	}
	return left, nil
}

func (t *pgTx) SumOrderItems(ctx context.Context, orderID domain.OrderID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity * price), 0) FROM order_items WHERE order_id=$1`, int64(orderID),
	).Scan(&total)
	return total, err
}

func (t *pgTx) SetOrderTotal(ctx context.Context, orderID domain.OrderID, total decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET total_amount=$2, updated_at=now() WHERE id=$1`, int64(orderID), total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) SaveIdempotentResult(ctx context.Context, key string, rec store.IdempotentRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_idempotency(idempotency_key, order_id, product_id, quantity, response)
		VALUES ($1, $2, $3, $4, $5)`,
		key, int64(rec.OrderID), int64(rec.ProductID), rec.Quantity, rec.Body,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) AppendOutbox(ctx context.Context, topic string, evt contracts.Event) error {
	return outbox.Insert(ctx, t.tx, evt.EventID, topic, strconv.FormatInt(evt.OrderID, 10), evt)
}
