// Package sqlstore implements the ledger repository over database/sql.
//
// The queries are written once with "?" placeholders; a Dialect supplies the
// driver-specific pieces: placeholder syntax, row locking, transaction
// options, schema, and the mapping of driver errors onto store errors.
// The postgres and sqlite packages build a Store from their own Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

type Dialect struct {
	Name string
	// Rebind rewrites "?" placeholders. Nil leaves the query untouched.
	Rebind func(query string) string
	// LockClause is appended to SELECTs whose rows must stay locked until
	// the unit of work ends. Empty when the whole database is locked.
	LockClause    string
	TxOptions     *sql.TxOptions
	ReadTxOptions *sql.TxOptions
	// OnBegin runs as the first statement of every write transaction.
	OnBegin func(ctx context.Context, tx *sql.Tx, lockTimeout time.Duration) error
	// Classify returns store.ErrConflict, store.ErrDuplicate or nil for a
	// driver error.
	Classify func(err error) error
	Schema   []string
}

type Store struct {
	db          *sql.DB
	readDB      *sql.DB
	dialect     Dialect
	lockTimeout time.Duration
}

// New wraps an open write pool and read pool. readDB may be the same pool
// as db.
func New(db *sql.DB, readDB *sql.DB, dialect Dialect, lockTimeout time.Duration) *Store {
	if readDB == nil {
		readDB = db
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{db: db, readDB: readDB, dialect: dialect, lockTimeout: lockTimeout}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	var readErr error
	if s.readDB != s.db {
		readErr = s.readDB.Close()
	}
	return errors.Join(s.db.Close(), readErr)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("acquire write connection: %w", store.ErrConflict)
		}
		return s.classify(err)
	}
	defer func() { _ = conn.Close() }()

	sqlTx, err := conn.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.dialect.OnBegin != nil {
		if err := s.dialect.OnBegin(ctx, sqlTx, s.lockTimeout); err != nil {
			return s.classify(err)
		}
	}

	if err := fn(&txStore{queries: queries{q: sqlTx, s: s}}); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) classify(err error) error {
	if err == nil || s.dialect.Classify == nil {
		return err
	}
	if kind := s.dialect.Classify(err); kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return err
}

func (s *Store) rebind(query string) string {
	if s.dialect.Rebind == nil {
		return query
	}
	return s.dialect.Rebind(query)
}

// read runs fn inside a read-only transaction so multi-query reads observe
// one snapshot.
func (s *Store) read(ctx context.Context, fn func(q queries) error) error {
	rtx, err := s.readDB.BeginTx(ctx, s.dialect.ReadTxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = rtx.Rollback() }()

	if err := fn(queries{q: rtx, s: s}); err != nil {
		return err
	}
	return rtx.Commit()
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product *domain.Product
	err := s.read(ctx, func(q queries) error {
		var err error
		product, err = q.getProduct(ctx, id, false)
		return err
	})
	return product, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.read(ctx, func(q queries) error {
		rows, err := q.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		products = make([]domain.Product, 0, 64)
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return err
			}
			products = append(products, *p)
		}
		return rows.Err()
	})
	return products, err
}

func (s *Store) ListBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.read(ctx, func(q queries) error {
		var err error
		batches, err = q.productBatches(ctx, productID)
		return err
	})
	return batches, err
}

func (s *Store) ListStockedBatches(ctx context.Context) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.read(ctx, func(q queries) error {
		var err error
		batches, err = q.batches(ctx, `
			SELECT `+batchColumns+`
			FROM batches
			WHERE quantity > 0
			ORDER BY expiry_date ASC, id ASC
		`)
		return err
	})
	return batches, err
}

func (s *Store) StockLevels(ctx context.Context) (map[int64]int, error) {
	levels := make(map[int64]int, 64)
	err := s.read(ctx, func(q queries) error {
		rows, err := q.query(ctx, `
			SELECT p.id, COALESCE(SUM(b.quantity), 0)
			FROM products p
			LEFT JOIN batches b ON b.product_id = p.id
			GROUP BY p.id
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var productID int64
			var qty int
			if err := rows.Scan(&productID, &qty); err != nil {
				return err
			}
			levels[productID] = qty
		}
		return rows.Err()
	})
	return levels, err
}

func (s *Store) ListMovements(ctx context.Context, productID int64) ([]domain.Movement, error) {
	var movements []domain.Movement
	err := s.read(ctx, func(q queries) error {
		var err error
		movements, err = q.productMovements(ctx, productID)
		return err
	})
	return movements, err
}

func (s *Store) ProductLedger(ctx context.Context, productID int64) ([]domain.Batch, []domain.Movement, error) {
	var (
		batches   []domain.Batch
		movements []domain.Movement
	)
	err := s.read(ctx, func(q queries) error {
		var err error
		if batches, err = q.productBatches(ctx, productID); err != nil {
			return err
		}
		movements, err = q.productMovements(ctx, productID)
		return err
	})
	return batches, movements, err
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale *domain.Sale
	err := s.read(ctx, func(q queries) error {
		var err error
		sale, err = q.saleHeader(ctx, id, false)
		if err != nil {
			return err
		}

		rows, err := q.query(ctx, `
			SELECT i.id, i.sale_id, i.product_id, i.batch_id, i.quantity, i.unit_price_cents, i.line_total_cents,
				COALESCE((SELECT SUM(r.quantity) FROM sale_returns r WHERE r.sale_item_id = i.id), 0)
			FROM sale_items i
			WHERE i.sale_id = ?
			ORDER BY i.id ASC
		`, id)
		if err != nil {
			return err
		}
		items := make([]domain.SaleItem, 0, 8)
		for rows.Next() {
			var item domain.SaleItem
			if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.BatchID, &item.Quantity,
				&item.UnitPriceCents, &item.LineTotalCents, &item.ReturnedQuantity); err != nil {
				_ = rows.Close()
				return err
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()
		sale.Items = items

		retRows, err := q.query(ctx, `
			SELECT r.id, r.sale_item_id, r.quantity, r.reason, r.created_at
			FROM sale_returns r
			JOIN sale_items i ON i.id = r.sale_item_id
			WHERE i.sale_id = ?
			ORDER BY r.id ASC
		`, id)
		if err != nil {
			return err
		}
		defer retRows.Close()
		for retRows.Next() {
			var ret domain.Return
			if err := retRows.Scan(&ret.ID, &ret.SaleItemID, &ret.Quantity, &ret.Reason, &ret.CreatedAt); err != nil {
				return err
			}
			sale.Returns = append(sale.Returns, ret)
		}
		return retRows.Err()
	})
	return sale, err
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	var sales []domain.Sale
	err := s.read(ctx, func(q queries) error {
		rows, err := q.query(ctx, `
			SELECT s.id, s.cashier_id, s.subtotal_cents, s.tax_cents, s.total_cents, s.payment_method,
				s.idempotency_key, s.created_at, c.reason, c.created_at
			FROM sales s
			LEFT JOIN sale_cancellations c ON c.sale_id = s.id
			ORDER BY s.id DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		sales = make([]domain.Sale, 0, min(limit, 64))
		for rows.Next() {
			var sale domain.Sale
			var idem, cancelReason sql.NullString
			var cancelledAt sql.NullTime
			if err := rows.Scan(&sale.ID, &sale.CashierID, &sale.SubtotalCents, &sale.TaxCents, &sale.TotalCents,
				&sale.PaymentMethod, &idem, &sale.CreatedAt, &cancelReason, &cancelledAt); err != nil {
				return err
			}
			sale.IdempotencyKey = idem.String
			if cancelledAt.Valid {
				sale.Cancellation = &domain.Cancellation{SaleID: sale.ID, Reason: cancelReason.String, CreatedAt: cancelledAt.Time}
			}
			sales = append(sales, sale)
		}
		return rows.Err()
	})
	return sales, err
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the statements shared by reads and writes.
type queries struct {
	q queryer
	s *Store
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.s.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.s.rebind(query), args...)
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.s.rebind(query), args...)
}

func (q queries) lock(lock bool) string {
	if !lock || q.s.dialect.LockClause == "" {
		return ""
	}
	return " " + q.s.dialect.LockClause
}

const productColumns = `id, barcode, name, sell_price_cents, tax_percent, requires_prescription, min_stock, created_at`

const batchColumns = `id, product_id, label, expiry_date, quantity, received_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.SellPriceCents, &p.TaxPercent,
		&p.RequiresPrescription, &p.MinStock, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBatch(row scanner) (*domain.Batch, error) {
	var b domain.Batch
	if err := row.Scan(&b.ID, &b.ProductID, &b.Label, &b.ExpiryDate, &b.Quantity, &b.ReceivedAt); err != nil {
		return nil, err
	}
	b.ExpiryDate = domain.DateOf(b.ExpiryDate)
	return &b, nil
}

func (q queries) getProduct(ctx context.Context, id int64, lock bool) (*domain.Product, error) {
	p, err := scanProduct(q.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`+q.lock(lock), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}
	return p, nil
}

func (q queries) batches(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func (q queries) productBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	return q.batches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE product_id = ?
		ORDER BY expiry_date ASC, id ASC
	`, productID)
}

func (q queries) productMovements(ctx context.Context, productID int64) ([]domain.Movement, error) {
	rows, err := q.query(ctx, `
		SELECT id, product_id, batch_id, direction, quantity, reason, created_at
		FROM stock_movements
		WHERE product_id = ?
		ORDER BY id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.Movement, 0, 32)
	for rows.Next() {
		var m domain.Movement
		var direction string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &direction, &m.Quantity, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = domain.Direction(direction)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (q queries) saleHeader(ctx context.Context, id int64, lock bool) (*domain.Sale, error) {
	var sale domain.Sale
	var idem sql.NullString
	err := q.queryRow(ctx, `
		SELECT id, cashier_id, subtotal_cents, tax_cents, total_cents, payment_method, idempotency_key, created_at
		FROM sales
		WHERE id = ?`+q.lock(lock), id).Scan(&sale.ID, &sale.CashierID, &sale.SubtotalCents, &sale.TaxCents,
		&sale.TotalCents, &sale.PaymentMethod, &idem, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, err
	}
	sale.IdempotencyKey = idem.String

	var c domain.Cancellation
	err = q.queryRow(ctx, `
		SELECT sale_id, reason, created_at
		FROM sale_cancellations
		WHERE sale_id = ?
	`, id).Scan(&c.SaleID, &c.Reason, &c.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		sale.Cancellation = &c
	}
	return &sale, nil
}

// txStore is the store.Tx handed to WithinTx callbacks.
type txStore struct {
	queries
}

func (t *txStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, id, false)
}

func (t *txStore) InsertProduct(ctx context.Context, product domain.Product) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO products (barcode, name, sell_price_cents, tax_percent, requires_prescription, min_stock, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, product.Barcode, product.Name, product.SellPriceCents, product.TaxPercent.String(),
		product.RequiresPrescription, product.MinStock, product.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		err = t.s.classify(err)
		if errors.Is(err, store.ErrDuplicate) {
			return 0, fmt.Errorf("barcode %q: %w", product.Barcode, store.ErrDuplicate)
		}
		return 0, err
	}
	return id, nil
}

func (t *txStore) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := t.getProduct(ctx, id, true); err != nil {
		return err
	}

	var referenced bool
	err := t.queryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stock_movements WHERE product_id = ?)
			OR EXISTS (SELECT 1 FROM sale_items WHERE product_id = ?)
	`, id, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("product %d: %w", id, store.ErrProductInUse)
	}

	if _, err := t.exec(ctx, `DELETE FROM batches WHERE product_id = ?`, id); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM products WHERE id = ?`, id); err != nil {
		return err
	}
	return nil
}

func (t *txStore) LockBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	return t.batches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE product_id = ? AND quantity > 0
		ORDER BY expiry_date ASC, id ASC`+t.lock(true), productID)
}

func (t *txStore) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	b, err := scanBatch(t.queryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`+t.lock(true), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("batch", id)
		}
		return nil, err
	}
	return b, nil
}

func (t *txStore) InsertBatch(ctx context.Context, batch domain.Batch) (int64, error) {
	if batch.Quantity < 0 {
		return 0, store.ErrNegativeStock
	}
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO batches (product_id, label, expiry_date, quantity, received_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, batch.ProductID, batch.Label, domain.DateOf(batch.ExpiryDate), batch.Quantity, batch.ReceivedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txStore) AddBatchQuantity(ctx context.Context, batchID int64, delta int) error {
	res, err := t.exec(ctx, `
		UPDATE batches
		SET quantity = quantity + ?
		WHERE id = ? AND quantity + ? >= 0
	`, delta, batchID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := t.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return fmt.Errorf("batch %d: %w", batchID, store.ErrNegativeStock)
}

func (t *txStore) AppendMovement(ctx context.Context, movement domain.Movement) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO stock_movements (product_id, batch_id, direction, quantity, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, movement.ProductID, movement.BatchID, string(movement.Direction), movement.Quantity,
		movement.Reason, movement.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txStore) FindSaleByIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `SELECT id FROM sales WHERE idempotency_key = ?`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func (t *txStore) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO sales (cashier_id, subtotal_cents, tax_cents, total_cents, payment_method, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, sale.CashierID, sale.SubtotalCents, sale.TaxCents, sale.TotalCents, sale.PaymentMethod,
		nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		err = t.s.classify(err)
		if errors.Is(err, store.ErrDuplicate) {
			return 0, fmt.Errorf("idempotency key %q: %w", sale.IdempotencyKey, store.ErrDuplicate)
		}
		return 0, err
	}
	return id, nil
}

func (t *txStore) InsertSaleItem(ctx context.Context, item domain.SaleItem) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO sale_items (sale_id, product_id, batch_id, quantity, unit_price_cents, line_total_cents)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, item.SaleID, item.ProductID, item.BatchID, item.Quantity, item.UnitPriceCents, item.LineTotalCents).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txStore) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return t.saleHeader(ctx, id, true)
}

func (t *txStore) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	rows, err := t.query(ctx, `
		SELECT id, sale_id, product_id, batch_id, quantity, unit_price_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.BatchID, &item.Quantity,
			&item.UnitPriceCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txStore) GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error) {
	var item domain.SaleItem
	err := t.queryRow(ctx, `
		SELECT id, sale_id, product_id, batch_id, quantity, unit_price_cents, line_total_cents
		FROM sale_items
		WHERE id = ?
	`, id).Scan(&item.ID, &item.SaleID, &item.ProductID, &item.BatchID, &item.Quantity,
		&item.UnitPriceCents, &item.LineTotalCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale item", id)
		}
		return nil, err
	}
	return &item, nil
}

func (t *txStore) InsertCancellation(ctx context.Context, cancellation domain.Cancellation) error {
	_, err := t.exec(ctx, `
		INSERT INTO sale_cancellations (sale_id, reason, created_at)
		VALUES (?, ?, ?)
	`, cancellation.SaleID, cancellation.Reason, cancellation.CreatedAt.UTC())
	if err != nil {
		err = t.s.classify(err)
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("sale %d: %w", cancellation.SaleID, store.ErrAlreadyCancelled)
		}
		return err
	}
	return nil
}

func (t *txStore) ReturnedQuantity(ctx context.Context, saleItemID int64) (int, error) {
	var total int
	err := t.queryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM sale_returns
		WHERE sale_item_id = ?
	`, saleItemID).Scan(&total)
	return total, err
}

func (t *txStore) InsertReturn(ctx context.Context, ret domain.Return) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO sale_returns (sale_item_id, quantity, reason, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, ret.SaleItemID, ret.Quantity, ret.Reason, ret.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// DollarRebind turns "?" placeholders into "$1", "$2", ...
func DollarRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
