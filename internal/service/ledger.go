package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmapos/backend/internal/allocation"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/events"
	"pharmapos/backend/internal/store"
)

// DefaultExpiryHorizonDays is the look-ahead used when a caller does not
// pick one.
const DefaultExpiryHorizonDays = 90

// AddStock receives a new batch and records its IN movement.
func (s *Service) AddStock(ctx context.Context, req domain.AddStockRequest) (batch *domain.Batch, err error) {
	defer s.track("add_stock", time.Now(), &err)

	req.Label = strings.TrimSpace(req.Label)
	req.ExpiryDate = strings.TrimSpace(req.ExpiryDate)
	if err := s.check(req); err != nil {
		return nil, err
	}
	expiry, err := time.Parse(domain.DateLayout, req.ExpiryDate)
	if err != nil {
		return nil, store.Invalid("expiry_date", "must be a date formatted as "+domain.DateLayout)
	}
	reason := defaultString(req.Reason, defaultStockReason)

	var created domain.Batch
	err = s.runInTx(ctx, "add_stock", func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return err
		}
		now := s.now().UTC()
		created = domain.Batch{
			ProductID:  req.ProductID,
			Label:      req.Label,
			ExpiryDate: domain.DateOf(expiry),
			Quantity:   req.Quantity,
			ReceivedAt: now,
		}
		id, err := tx.InsertBatch(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		_, err = tx.AppendMovement(ctx, domain.Movement{
			ProductID: req.ProductID,
			BatchID:   id,
			Direction: domain.DirectionIn,
			Quantity:  req.Quantity,
			Reason:    reason,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "stock_add", "batch", created.ID,
		zap.Int64("product_id", created.ProductID),
		zap.Int("quantity", created.Quantity),
		zap.String("expiry_date", created.ExpiryDate.Format(domain.DateLayout)),
	)
	s.emit(ctx, events.StockAdded, productKey(created.ProductID), created.ReceivedAt, created)
	return &created, nil
}

// AdjustBatch books a physical count against a batch. A shortfall is written
// off with an ADJUST movement, a surplus is received with an IN movement.
func (s *Service) AdjustBatch(ctx context.Context, req domain.AdjustBatchRequest) (batch *domain.Batch, err error) {
	defer s.track("adjust_batch", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	reason := defaultString(req.Reason, defaultAdjustReason)

	var (
		adjusted domain.Batch
		movement *domain.Movement
	)
	err = s.runInTx(ctx, "adjust_batch", func(tx store.Tx) error {
		movement = nil
		current, err := tx.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		adjusted = *current

		delta := req.CountedQuantity - current.Quantity
		if delta == 0 {
			return nil
		}
		if err := tx.AddBatchQuantity(ctx, current.ID, delta); err != nil {
			return err
		}
		m := domain.Movement{
			ProductID: current.ProductID,
			BatchID:   current.ID,
			Direction: domain.DirectionIn,
			Quantity:  delta,
			Reason:    reason,
			CreatedAt: s.now().UTC(),
		}
		if delta < 0 {
			m.Direction = domain.DirectionAdjust
			m.Quantity = -delta
		}
		if m.ID, err = tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		adjusted.Quantity = req.CountedQuantity
		movement = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if movement == nil {
		return &adjusted, nil
	}

	s.logAudit(ctx, "stock_adjust", "batch", adjusted.ID,
		zap.String("direction", string(movement.Direction)),
		zap.Int("quantity", movement.Quantity),
		zap.Int("counted", req.CountedQuantity),
	)
	s.emit(ctx, events.StockAdjusted, productKey(adjusted.ProductID), movement.CreatedAt, movement)
	return &adjusted, nil
}

// GetTotalStock sums every batch of the product, expired ones included.
// Unknown products have no batches and therefore zero stock.
func (s *Service) GetTotalStock(ctx context.Context, productID int64) (int, error) {
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total, nil
}

// ListLowStockProducts returns products whose stock is at or below their
// minimum, lowest stock first.
func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.LowStockProduct, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	levels, err := s.repo.StockLevels(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]domain.LowStockProduct, 0, len(products))
	for _, p := range products {
		stock := levels[p.ID]
		if stock <= p.MinStock {
			low = append(low, domain.LowStockProduct{Product: p, Stock: stock, MinStock: p.MinStock})
		}
	}
	slices.SortStableFunc(low, func(a, b domain.LowStockProduct) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return cmpInt64(a.Product.ID, b.Product.ID)
	})
	return low, nil
}

// ListExpiringBatches returns non-empty batches whose expiry falls on or
// before today+days, soonest first. Already expired batches are included.
// A negative horizon is treated as zero.
func (s *Service) ListExpiringBatches(ctx context.Context, days int) ([]domain.ExpiringBatch, error) {
	if days < 0 {
		days = 0
	}
	today := domain.DateOf(s.now())
	horizon := today.AddDate(0, 0, days)

	batches, err := s.repo.ListStockedBatches(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	expiring := make([]domain.ExpiringBatch, 0, len(batches))
	for _, b := range batches {
		expiry := domain.DateOf(b.ExpiryDate)
		if expiry.After(horizon) {
			continue
		}
		p := byID[b.ProductID]
		expiring = append(expiring, domain.ExpiringBatch{
			Batch:       b,
			ProductName: p.Name,
			Barcode:     p.Barcode,
			DaysLeft:    int(expiry.Sub(today).Hours() / 24),
		})
	}
	slices.SortStableFunc(expiring, func(a, b domain.ExpiringBatch) int {
		return allocation.CompareFEFO(a.Batch, b.Batch)
	})
	return expiring, nil
}

func (s *Service) ListBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, productID)
}

func (s *Service) ListMovements(ctx context.Context, productID int64) ([]domain.Movement, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID)
}

// Reconcile compares the signed movement log of a product with its batch
// quantities.
func (s *Service) Reconcile(ctx context.Context, productID int64) (domain.Reconciliation, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return domain.Reconciliation{}, err
	}
	batches, movements, err := s.repo.ProductLedger(ctx, productID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	rec := domain.Reconciliation{ProductID: productID}
	for _, b := range batches {
		rec.BatchTotal += b.Quantity
	}
	for _, m := range movements {
		rec.MovementTotal += m.Delta()
	}
	rec.Balanced = rec.BatchTotal == rec.MovementTotal
	if !rec.Balanced {
		s.logger(ctx).Error("ledger out of balance",
			zap.Int64("product_id", productID),
			zap.Int("batch_total", rec.BatchTotal),
			zap.Int("movement_total", rec.MovementTotal),
		)
	}
	return rec, nil
}

func productKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
