// Package postgres is the production Store on top of pgx. Writes take row
// locks with SELECT ... FOR UPDATE in a fixed order (order, product, line),
// so concurrent add-item calls on the same product or the same order are
// serialised by the database and several service instances can share it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Order(ctx context.Context, id domain.OrderID) (domain.OrderView, error) {
	var view domain.OrderView
	o := &view.Order
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, order_date, status, total_amount, created_at, updated_at
		FROM orders WHERE id=$1`, int64(id),
	).Scan(&o.ID, &o.ClientID, &o.OrderDate, &o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.OrderView{}, notFound(err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price, oi.created_at, p.name
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id=$1 ORDER BY oi.id`, int64(id))
	if err != nil {
		return domain.OrderView{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.OrderLine
		it := &line.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt, &line.ProductName); err != nil {
			return domain.OrderView{}, err
		}
		view.Items = append(view.Items, line)
	}
	return view, rows.Err()
}

func (s *Store) Product(ctx context.Context, id domain.ProductID) (domain.ProductView, error) {
	var view domain.ProductView
	p := &view.Product
	var categoryID *int64
	err := s.pool.QueryRow(ctx,
		`SELECT p.id, p.name, p.quantity, p.price, p.category_id, p.created_at, p.updated_at, c.name
		FROM products p LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id=$1`, int64(id),
	).Scan(&p.ID, &p.Name, &p.Quantity, &p.Price, &categoryID, &p.CreatedAt, &p.UpdatedAt, &view.CategoryName)
	if err != nil {
		return domain.ProductView{}, notFound(err)
	}
	p.CategoryID = categoryRef(categoryID)
	return view, nil
}

func (s *Store) IdempotentResult(ctx context.Context, key string) (store.IdempotentRecord, error) {
	var rec store.IdempotentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT order_id, product_id, quantity, response FROM order_idempotency WHERE idempotency_key=$1`, key,
	).Scan(&rec.OrderID, &rec.ProductID, &rec.Quantity, &rec.Body)
	if err != nil {
		return store.IdempotentRecord{}, notFound(err)
	}
	return rec, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func categoryRef(id *int64) *domain.CategoryID {
	if id == nil {
		return nil
	}
	c := domain.CategoryID(*id)
	return &c
}

// isUniqueViolation reports a Postgres 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
