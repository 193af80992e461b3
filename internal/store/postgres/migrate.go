package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		parent_id BIGINT REFERENCES categories(id),
		level INTEGER NOT NULL DEFAULT 0,
		path VARCHAR(1000),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0 CONSTRAINT check_quantity_positive CHECK (quantity >= 0),
		price NUMERIC(10, 2) NOT NULL CONSTRAINT check_price_positive CHECK (price >= 0),
		category_id BIGINT REFERENCES categories(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		address VARCHAR(500),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients(id),
		order_date TIMESTAMPTZ NOT NULL DEFAULT now(),
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		total_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CONSTRAINT check_item_quantity_positive CHECK (quantity > 0),
		price NUMERIC(10, 2) NOT NULL CONSTRAINT check_item_price_positive CHECK (price >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unique_order_product UNIQUE (order_id, product_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	`CREATE TABLE IF NOT EXISTS order_idempotency (
		idempotency_key VARCHAR(200) PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		quantity INTEGER NOT NULL,
		response JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE order_idempotency ADD COLUMN IF NOT EXISTS product_id BIGINT NOT NULL DEFAULT 0`,
	`ALTER TABLE order_idempotency ADD COLUMN IF NOT EXISTS quantity INTEGER NOT NULL DEFAULT 0`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		key TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(id) WHERE sent_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS inbox (
		event_id UUID PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		order_id BIGINT NOT NULL,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

var seed = []string{
	`INSERT INTO categories(id, name, parent_id, level, path) VALUES (1, 'Electronics', NULL, 0, '1') ON CONFLICT (id) DO NOTHING`,
	`INSERT INTO products(id, name, quantity, price, category_id) VALUES
		(1, 'Smartphone', 10, 50000.00, 1),
		(2, 'Laptop', 5, 80000.00, 1)
		ON CONFLICT (id) DO NOTHING`,
	`INSERT INTO clients(id, name, address) VALUES (1, 'Demo client', 'Demo address') ON CONFLICT (id) DO NOTHING`,
	`INSERT INTO orders(id, client_id, status) VALUES (1, 1, 'pending') ON CONFLICT (id) DO NOTHING`,
	`SELECT setval(pg_get_serial_sequence('categories', 'id'), (SELECT MAX(id) FROM categories))`,
	`SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT MAX(id) FROM products))`,
	`SELECT setval(pg_get_serial_sequence('clients', 'id'), (SELECT MAX(id) FROM clients))`,
	`SELECT setval(pg_get_serial_sequence('orders', 'id'), (SELECT MAX(id) FROM orders))`,
}

// Seed inserts the demo catalog. Existing rows are left alone.
func (s *Store) Seed(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, q := range seed {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return tx.Commit(ctx)
}
