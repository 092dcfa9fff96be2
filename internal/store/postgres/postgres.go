package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

// New opens the pool, pings it and makes sure the schema exists.
// lockTimeout bounds both waiting for a pooled connection and waiting on
// row locks held by another unit of work.
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{Store: sqlstore.New(db, db, Dialect(), lockTimeout)}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:       "postgres",
		Rebind:     sqlstore.DollarRebind,
		LockClause: "FOR UPDATE",
		TxOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
		ReadTxOptions: &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  true,
		},
		OnBegin:  setLockTimeout,
		Classify: classify,
		Schema:   schema,
	}
}

func setLockTimeout(ctx context.Context, tx *sql.Tx, lockTimeout time.Duration) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds()))
	return err
}

func classify(err error) error {
	switch {
	case isUniqueViolation(err):
		return store.ErrDuplicate
	case isConflict(err):
		return store.ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isConflict reports serialization failures, deadlocks and lock timeouts.
// All of them are safe to retry from the top of the unit of work.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		barcode TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		sell_price_cents BIGINT NOT NULL CHECK (sell_price_cents >= 0),
		tax_percent NUMERIC(7,3) NOT NULL DEFAULT 0,
		requires_prescription BOOLEAN NOT NULL DEFAULT FALSE,
		min_stock INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		label TEXT NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_product_expiry ON batches (product_id, expiry_date, id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		batch_id BIGINT NOT NULL REFERENCES batches(id) ON DELETE RESTRICT,
		direction TEXT NOT NULL CHECK (direction IN ('IN', 'OUT', 'ADJUST')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, id)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		cashier_id TEXT NOT NULL,
		subtotal_cents BIGINT NOT NULL,
		tax_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		payment_method TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		batch_id BIGINT NOT NULL REFERENCES batches(id) ON DELETE RESTRICT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		line_total_cents BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS sale_cancellations (
		sale_id BIGINT PRIMARY KEY REFERENCES sales(id) ON DELETE CASCADE,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_returns (
		id BIGSERIAL PRIMARY KEY,
		sale_item_id BIGINT NOT NULL REFERENCES sale_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_returns_item ON sale_returns (sale_item_id)`,
}
