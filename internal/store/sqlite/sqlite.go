// Package sqlite stores the ledger in a single SQLite file.
//
// Writes go through a pool of exactly one connection whose transactions
// start with BEGIN IMMEDIATE, so at most one unit of work holds the write
// lock. Reads use a second pool of deferred transactions and, with WAL
// enabled, never wait for the writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

// New opens dbPath and creates the schema. ":memory:" is accepted but then
// reads share the single write connection.
func New(ctx context.Context, dbPath string, lockTimeout time.Duration) (*Store, error) {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	busy := lockTimeout.Milliseconds()

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", dbPath, busy))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	readDB := db
	if dbPath != ":memory:" {
		readDB, err = sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_txlock=deferred", dbPath, busy))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}
		readDB.SetMaxOpenConns(8)
	}

	s := &Store{Store: sqlstore.New(db, readDB, Dialect(), lockTimeout)}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:     "sqlite",
		Classify: classify,
		Schema:   schema,
	}
}

func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch {
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return store.ErrConflict
	case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return store.ErrDuplicate
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		barcode TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		sell_price_cents INTEGER NOT NULL CHECK (sell_price_cents >= 0),
		tax_percent TEXT NOT NULL DEFAULT '0',
		requires_prescription BOOLEAN NOT NULL DEFAULT 0,
		min_stock INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		label TEXT NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		received_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_product_expiry ON batches (product_id, expiry_date, id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		batch_id INTEGER NOT NULL REFERENCES batches(id) ON DELETE RESTRICT,
		direction TEXT NOT NULL CHECK (direction IN ('IN', 'OUT', 'ADJUST')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, id)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cashier_id TEXT NOT NULL,
		subtotal_cents INTEGER NOT NULL,
		tax_cents INTEGER NOT NULL,
		total_cents INTEGER NOT NULL,
		payment_method TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		batch_id INTEGER NOT NULL REFERENCES batches(id) ON DELETE RESTRICT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents INTEGER NOT NULL,
		line_total_cents INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS sale_cancellations (
		sale_id INTEGER PRIMARY KEY REFERENCES sales(id) ON DELETE CASCADE,
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_returns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_item_id INTEGER NOT NULL REFERENCES sale_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_returns_item ON sale_returns (sale_item_id)`,
}
