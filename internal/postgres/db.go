package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		base_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		tags        TEXT NOT NULL DEFAULT '',
		rating      NUMERIC(3,1) NOT NULL DEFAULT 0,
		reviews     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		position     BIGSERIAL,
		variation_id TEXT PRIMARY KEY,
		product_id   TEXT NOT NULL,
		color_name   TEXT NOT NULL DEFAULT '',
		color_hex    TEXT NOT NULL DEFAULT '',
		image_url    TEXT NOT NULL DEFAULT '',
		stock        INTEGER NOT NULL CHECK (stock >= 0),
		version      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS completed_orders (
		order_id      TEXT PRIMARY KEY,
		created_at    TIMESTAMPTZ NOT NULL,
		customer_name TEXT NOT NULL,
		phone         TEXT NOT NULL,
		address       TEXT NOT NULL,
		items_summary TEXT NOT NULL,
		total         NUMERIC(12,2) NOT NULL,
		status        TEXT NOT NULL,
		payment_id    TEXT NOT NULL DEFAULT '',
		items         JSONB NOT NULL,
		synced_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the ledger tables when they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
