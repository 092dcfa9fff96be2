package store

import (
	"context"

	"pharmapos/backend/internal/domain"
)

// Reader serves queries from the last committed state. Implementations must
// not block writers while reading.
type Reader interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListBatches(ctx context.Context, productID int64) ([]domain.Batch, error)
	ListStockedBatches(ctx context.Context) ([]domain.Batch, error)
	StockLevels(ctx context.Context) (map[int64]int, error)
	ListMovements(ctx context.Context, productID int64) ([]domain.Movement, error)
	// ProductLedger returns a product's batches and movements read from the
	// same committed state.
	ProductLedger(ctx context.Context, productID int64) ([]domain.Batch, []domain.Movement, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
}

// Tx is one atomic unit of work. Every mutation made through it is either
// committed together or discarded together.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	InsertProduct(ctx context.Context, product domain.Product) (int64, error)
	DeleteProduct(ctx context.Context, id int64) error

	// LockBatches returns the product's batches with quantity > 0 ordered by
	// expiry then id, held against concurrent writers until the unit ends.
	LockBatches(ctx context.Context, productID int64) ([]domain.Batch, error)
	GetBatch(ctx context.Context, id int64) (*domain.Batch, error)
	InsertBatch(ctx context.Context, batch domain.Batch) (int64, error)
	// AddBatchQuantity applies delta to the batch. It fails with
	// ErrNegativeStock instead of letting the quantity drop below zero.
	AddBatchQuantity(ctx context.Context, batchID int64, delta int) error
	AppendMovement(ctx context.Context, movement domain.Movement) (int64, error)

	FindSaleByIdempotencyKey(ctx context.Context, key string) (int64, error)
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	InsertSaleItem(ctx context.Context, item domain.SaleItem) (int64, error)
	// GetSale returns the sale header and its cancellation, if any.
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error)
	InsertCancellation(ctx context.Context, cancellation domain.Cancellation) error
	ReturnedQuantity(ctx context.Context, saleItemID int64) (int, error)
	InsertReturn(ctx context.Context, ret domain.Return) (int64, error)
}

type Repository interface {
	Reader
	// WithinTx runs fn inside one unit of work. A non-nil error from fn
	// discards every mutation. Failing to obtain the write scope in time
	// yields ErrConflict.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
