// Package storetest holds the behaviour every store.Repository must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

// Factory returns an empty repository whose writers give up after
// lockTimeout. The factory owns cleanup.
type Factory func(t *testing.T, lockTimeout time.Duration) store.Repository

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newRepo Factory) {
	t.Run("product round trip", func(t *testing.T) { testProductRoundTrip(t, newRepo(t, time.Second)) })
	t.Run("lock batches order", func(t *testing.T) { testLockBatchesOrder(t, newRepo(t, time.Second)) })
	t.Run("rollback discards writes", func(t *testing.T) { testRollback(t, newRepo(t, time.Second)) })
	t.Run("batch quantity never negative", func(t *testing.T) { testNegativeGuard(t, newRepo(t, time.Second)) })
	t.Run("sale lifecycle", func(t *testing.T) { testSaleLifecycle(t, newRepo(t, time.Second)) })
	t.Run("idempotency key", func(t *testing.T) { testIdempotencyKey(t, newRepo(t, time.Second)) })
	t.Run("delete product", func(t *testing.T) { testDeleteProduct(t, newRepo(t, time.Second)) })
	t.Run("list sales", func(t *testing.T) { testListSales(t, newRepo(t, time.Second)) })
	t.Run("product ledger", func(t *testing.T) { testProductLedger(t, newRepo(t, time.Second)) })
	t.Run("concurrent decrements", func(t *testing.T) { testConcurrentDecrements(t, newRepo(t, 5*time.Second)) })
	t.Run("blocked writer conflicts", func(t *testing.T) { testBlockedWriter(t, newRepo(t, 150*time.Millisecond)) })
}

func SeedProduct(t *testing.T, repo store.Repository, barcode string, requiresPrescription bool) int64 {
	t.Helper()
	var id int64
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		id, err = tx.InsertProduct(context.Background(), domain.Product{
			Barcode:              barcode,
			Name:                 "Product " + barcode,
			SellPriceCents:       1250,
			TaxPercent:           decimal.RequireFromString("7.5"),
			RequiresPrescription: requiresPrescription,
			MinStock:             5,
			CreatedAt:            base,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

// SeedBatch receives a batch together with its IN movement.
func SeedBatch(t *testing.T, repo store.Repository, productID int64, label string, expiry time.Time, qty int) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.InsertBatch(ctx, domain.Batch{
			ProductID:  productID,
			Label:      label,
			ExpiryDate: expiry,
			Quantity:   qty,
			ReceivedAt: base,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendMovement(ctx, domain.Movement{
			ProductID: productID,
			BatchID:   id,
			Direction: domain.DirectionIn,
			Quantity:  qty,
			Reason:    "stock received",
			CreatedAt: base,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func testProductRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	id := SeedProduct(t, repo, "899000001", true)

	got, err := repo.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "899000001", got.Barcode)
	assert.Equal(t, int64(1250), got.SellPriceCents)
	assert.True(t, got.TaxPercent.Equal(decimal.RequireFromString("7.5")), "tax percent %s", got.TaxPercent)
	assert.True(t, got.RequiresPrescription)
	assert.Equal(t, 5, got.MinStock)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertProduct(ctx, domain.Product{Barcode: "899000001", Name: "dup", CreatedAt: base})
		return err
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	_, err = repo.GetProduct(ctx, id+1000)
	require.ErrorIs(t, err, store.ErrNotFound)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
}

func testProductLedger(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000009", false)
	other := SeedProduct(t, repo, "899000010", false)
	batchID := SeedBatch(t, repo, productID, "L1", base.AddDate(0, 2, 0), 6)
	SeedBatch(t, repo, other, "O1", base.AddDate(0, 2, 0), 9)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AddBatchQuantity(ctx, batchID, -2); err != nil {
			return err
		}
		_, err := tx.AppendMovement(ctx, domain.Movement{
			ProductID: productID,
			BatchID:   batchID,
			Direction: domain.DirectionAdjust,
			Quantity:  2,
			Reason:    "stock count",
			CreatedAt: base,
		})
		return err
	})
	require.NoError(t, err)

	batches, movements, err := repo.ProductLedger(ctx, productID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, movements, 2)
	assert.Equal(t, 4, batches[0].Quantity)

	total := 0
	for _, m := range movements {
		assert.Equal(t, productID, m.ProductID)
		total += m.Delta()
	}
	assert.Equal(t, batches[0].Quantity, total)
}

func testLockBatchesOrder(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000002", false)
	late := SeedBatch(t, repo, productID, "LATE", base.AddDate(0, 6, 0), 4)
	earlyA := SeedBatch(t, repo, productID, "EARLY-A", base.AddDate(0, 1, 0), 2)
	earlyB := SeedBatch(t, repo, productID, "EARLY-B", base.AddDate(0, 1, 0), 3)
	empty := SeedBatch(t, repo, productID, "EMPTY", base.AddDate(0, 0, 1), 1)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AddBatchQuantity(ctx, empty, -1); err != nil {
			return err
		}
		batches, err := tx.LockBatches(ctx, productID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(batches))
		for _, b := range batches {
			ids = append(ids, b.ID)
		}
		assert.Equal(t, []int64{earlyA, earlyB, late}, ids)
		assert.Equal(t, domain.DateOf(base.AddDate(0, 1, 0)), batches[0].ExpiryDate)
		return nil
	})
	require.NoError(t, err)

	all, err := repo.ListBatches(ctx, productID)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	stocked, err := repo.ListStockedBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, stocked, 3)

	levels, err := repo.StockLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, levels[productID])
}

func testRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000003", false)
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertBatch(ctx, domain.Batch{ProductID: productID, Label: "X", ExpiryDate: base, Quantity: 9, ReceivedAt: base})
		if err != nil {
			return err
		}
		if _, err := tx.AppendMovement(ctx, domain.Movement{
			ProductID: productID, BatchID: id, Direction: domain.DirectionIn, Quantity: 9, Reason: "stock received", CreatedAt: base,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	batches, err := repo.ListBatches(ctx, productID)
	require.NoError(t, err)
	assert.Empty(t, batches)

	movements, err := repo.ListMovements(ctx, productID)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func testNegativeGuard(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000004", false)
	batchID := SeedBatch(t, repo, productID, "A", base.AddDate(0, 1, 0), 2)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AddBatchQuantity(ctx, batchID, -3)
	})
	require.ErrorIs(t, err, store.ErrNegativeStock)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AddBatchQuantity(ctx, batchID+1000, 1)
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	batches, err := repo.ListBatches(ctx, productID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Quantity)
}

func testSaleLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000005", false)
	batchID := SeedBatch(t, repo, productID, "A", base.AddDate(0, 2, 0), 10)

	var saleID, itemID int64
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		saleID, err = tx.InsertSale(ctx, domain.Sale{
			CashierID: "cashier", SubtotalCents: 2500, TaxCents: 188, TotalCents: 2688,
			PaymentMethod: "cash", CreatedAt: base,
		})
		if err != nil {
			return err
		}
		itemID, err = tx.InsertSaleItem(ctx, domain.SaleItem{
			SaleID: saleID, ProductID: productID, BatchID: batchID, Quantity: 2, UnitPriceCents: 1250, LineTotalCents: 2500,
		})
		if err != nil {
			return err
		}
		if err := tx.AddBatchQuantity(ctx, batchID, -2); err != nil {
			return err
		}
		_, err = tx.AppendMovement(ctx, domain.Movement{
			ProductID: productID, BatchID: batchID, Direction: domain.DirectionOut, Quantity: 2,
			Reason: fmt.Sprintf("sale #%d", saleID), CreatedAt: base,
		})
		return err
	})
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetSaleItem(ctx, itemID)
		if err != nil {
			return err
		}
		assert.Equal(t, saleID, item.SaleID)

		items, err := tx.ListSaleItems(ctx, saleID)
		if err != nil {
			return err
		}
		assert.Len(t, items, 1)

		if _, err := tx.InsertReturn(ctx, domain.Return{SaleItemID: itemID, Quantity: 1, Reason: "customer return", CreatedAt: base}); err != nil {
			return err
		}
		returned, err := tx.ReturnedQuantity(ctx, itemID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, returned)
		return nil
	})
	require.NoError(t, err)

	cancel := func() error {
		return repo.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertCancellation(ctx, domain.Cancellation{SaleID: saleID, Reason: "sale cancelled", CreatedAt: base})
		})
	}
	require.NoError(t, cancel())
	require.ErrorIs(t, cancel(), store.ErrAlreadyCancelled)

	sale, err := repo.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, int64(2688), sale.TotalCents)
	require.NotNil(t, sale.Cancellation)
	assert.True(t, sale.Cancelled())
	require.Len(t, sale.Items, 1)
	assert.Equal(t, 1, sale.Items[0].ReturnedQuantity)
	require.Len(t, sale.Returns, 1)
	assert.Equal(t, itemID, sale.Returns[0].SaleItemID)

	_, err = repo.GetSale(ctx, saleID+1000)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetSaleItem(ctx, itemID+1000)
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testIdempotencyKey(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindSaleByIdempotencyKey(ctx, "key-1")
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	var saleID int64
	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		saleID, err = tx.InsertSale(ctx, domain.Sale{CashierID: "c", PaymentMethod: "cash", IdempotencyKey: "key-1", CreatedAt: base})
		return err
	})
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.FindSaleByIdempotencyKey(ctx, "key-1")
		if err != nil {
			return err
		}
		assert.Equal(t, saleID, found)
		_, err = tx.InsertSale(ctx, domain.Sale{CashierID: "c", PaymentMethod: "cash", IdempotencyKey: "key-1", CreatedAt: base})
		return err
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	// Sales without a key never collide.
	for range 2 {
		err = repo.WithinTx(ctx, func(tx store.Tx) error {
			_, err := tx.InsertSale(ctx, domain.Sale{CashierID: "c", PaymentMethod: "cash", CreatedAt: base})
			return err
		})
		require.NoError(t, err)
	}
}

func testDeleteProduct(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	unused := SeedProduct(t, repo, "899000006", false)
	used := SeedProduct(t, repo, "899000007", false)
	SeedBatch(t, repo, used, "A", base.AddDate(0, 1, 0), 1)

	err := repo.WithinTx(ctx, func(tx store.Tx) error { return tx.DeleteProduct(ctx, used) })
	require.ErrorIs(t, err, store.ErrProductInUse)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error { return tx.DeleteProduct(ctx, unused) }))
	_, err = repo.GetProduct(ctx, unused)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = repo.WithinTx(ctx, func(tx store.Tx) error { return tx.DeleteProduct(ctx, unused) })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testListSales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	ids := make([]int64, 0, 3)
	for i := range 3 {
		err := repo.WithinTx(ctx, func(tx store.Tx) error {
			id, err := tx.InsertSale(ctx, domain.Sale{CashierID: "c", PaymentMethod: "cash", TotalCents: int64(i), CreatedAt: base})
			ids = append(ids, id)
			return err
		})
		require.NoError(t, err)
	}

	sales, err := repo.ListSales(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, ids[2], sales[0].ID)
	assert.Equal(t, ids[1], sales[1].ID)

	all, err := repo.ListSales(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// testConcurrentDecrements races more buyers than units. Exactly the stock
// on hand may be sold, and the movement log must agree with the batch.
func testConcurrentDecrements(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000008", false)
	batchID := SeedBatch(t, repo, productID, "A", base.AddDate(1, 0, 0), 10)

	const buyers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sold    int
		refused int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := retryConflicts(func() error {
				return repo.WithinTx(ctx, func(tx store.Tx) error {
					batches, err := tx.LockBatches(ctx, productID)
					if err != nil {
						return err
					}
					if len(batches) == 0 {
						return store.ErrInsufficientStock
					}
					if err := tx.AddBatchQuantity(ctx, batches[0].ID, -1); err != nil {
						return err
					}
					_, err = tx.AppendMovement(ctx, domain.Movement{
						ProductID: productID, BatchID: batches[0].ID, Direction: domain.DirectionOut,
						Quantity: 1, Reason: "sale", CreatedAt: base,
					})
					return err
				})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, store.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	assert.Equal(t, buyers-10, refused)

	batches, err := repo.ListBatches(ctx, productID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, batchID, batches[0].ID)
	assert.Equal(t, 0, batches[0].Quantity)

	movements, err := repo.ListMovements(ctx, productID)
	require.NoError(t, err)
	total := 0
	for _, m := range movements {
		total += m.Delta()
	}
	assert.Equal(t, 0, total)
}

// testBlockedWriter holds a unit of work open and checks that a second
// writer gives up with ErrConflict while readers still see committed state.
func testBlockedWriter(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	productID := SeedProduct(t, repo, "899000009", false)
	batchID := SeedBatch(t, repo, productID, "A", base.AddDate(1, 0, 0), 5)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithinTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockBatches(ctx, productID); err != nil {
				close(started)
				return err
			}
			if err := tx.AddBatchQuantity(ctx, batchID, -1); err != nil {
				close(started)
				return err
			}
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockBatches(ctx, productID)
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	batches, err := repo.ListBatches(readCtx, productID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 5, batches[0].Quantity, "uncommitted decrement must not be visible")

	close(release)
	require.NoError(t, <-done)

	batches, err = repo.ListBatches(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, batches[0].Quantity)
}

func retryConflicts(fn func() error) error {
	var err error
	for range 50 {
		err = fn()
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return err
}
