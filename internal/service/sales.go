package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmapos/backend/internal/allocation"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/events"
	"pharmapos/backend/internal/store"
)

const defaultSaleListLimit = 50

var hundred = decimal.NewFromInt(100)

// CreateSale checks prescriptions for every line, plans first-expiry-first
// allocations, and persists the sale with its items, batch decrements and
// OUT movements as one unit. Any failing line fails the whole sale.
//
// A request carrying an idempotency key that was already used returns the
// original sale marked as a duplicate.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (receipt *domain.SaleReceipt, err error) {
	defer s.track("create_sale", time.Now(), &err)

	req.CashierID = strings.TrimSpace(req.CashierID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := s.check(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if cached, ok := s.cachedReceipt(ctx, req.IdempotencyKey); ok {
			return &domain.SaleReceipt{Sale: *cached, Duplicate: true}, nil
		}
	}

	var (
		created     *domain.Sale
		duplicateOf int64
	)
	err = s.runInTx(ctx, "create_sale", func(tx store.Tx) error {
		created, duplicateOf = nil, 0
		if req.IdempotencyKey != "" {
			id, err := tx.FindSaleByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				duplicateOf = id
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		sale, err := s.placeSale(ctx, tx, req)
		if err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, store.ErrDuplicate) {
			return s.replayIdempotentSale(ctx, req.IdempotencyKey)
		}
		return nil, err
	}
	if duplicateOf != 0 {
		return s.duplicateReceipt(ctx, req.IdempotencyKey, duplicateOf)
	}

	s.metrics.SaleCommitted(created.TotalCents)
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		zap.String("cashier_id", created.CashierID),
		zap.Int64("total_cents", created.TotalCents),
		zap.Int("item_count", len(created.Items)),
	)
	s.emit(ctx, events.SaleCreated, saleKey(created.ID), created.CreatedAt, created)
	s.rememberReceipt(ctx, created)

	return &domain.SaleReceipt{Sale: *created}, nil
}

// placeSale runs inside the unit of work. Nothing is written until every
// line has a complete allocation plan.
func (s *Service) placeSale(ctx context.Context, tx store.Tx, req domain.CreateSaleRequest) (*domain.Sale, error) {
	products := make(map[int64]*domain.Product, len(req.Lines))
	for _, line := range req.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			var err error
			if product, err = tx.GetProduct(ctx, line.ProductID); err != nil {
				return nil, err
			}
			products[line.ProductID] = product
		}
		if product.RequiresPrescription && !line.PrescriptionVerified {
			return nil, &store.PrescriptionRequiredError{ProductID: product.ID}
		}
	}

	now := s.now().UTC()
	today := domain.DateOf(now)
	ledger := allocation.NewLedger()
	locked := make(map[int64][]domain.Batch, len(products))

	items := make([]domain.SaleItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		batches, ok := locked[line.ProductID]
		if !ok {
			var err error
			if batches, err = tx.LockBatches(ctx, line.ProductID); err != nil {
				return nil, err
			}
			locked[line.ProductID] = batches
		}

		plan, err := allocation.Allocate(line.ProductID, ledger.Remaining(batches), line.Quantity, today)
		if err != nil {
			return nil, err
		}
		ledger.Claim(plan)

		price := products[line.ProductID].SellPriceCents
		for _, f := range plan.Fragments {
			items = append(items, domain.SaleItem{
				ProductID:      line.ProductID,
				BatchID:        f.BatchID,
				Quantity:       f.Quantity,
				UnitPriceCents: price,
				LineTotalCents: price * int64(f.Quantity),
			})
		}
	}

	sale := domain.Sale{
		CashierID:      req.CashierID,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	sale.SubtotalCents, sale.TaxCents = priceItems(items, products)
	sale.TotalCents = sale.SubtotalCents + sale.TaxCents

	saleID, err := tx.InsertSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	sale.ID = saleID
	reason := fmt.Sprintf("sale #%d", saleID)

	for i := range items {
		item := &items[i]
		item.SaleID = saleID
		if item.ID, err = tx.InsertSaleItem(ctx, *item); err != nil {
			return nil, err
		}
		if err := tx.AddBatchQuantity(ctx, item.BatchID, -item.Quantity); err != nil {
			return nil, err
		}
		if _, err := tx.AppendMovement(ctx, domain.Movement{
			ProductID: item.ProductID,
			BatchID:   item.BatchID,
			Direction: domain.DirectionOut,
			Quantity:  item.Quantity,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
	}
	sale.Items = items
	return &sale, nil
}

// priceItems sums line totals and their tax. Tax is accumulated exactly and
// rounded to cents once for the whole sale, half away from zero.
func priceItems(items []domain.SaleItem, products map[int64]*domain.Product) (subtotal int64, tax int64) {
	taxSum := decimal.Zero
	for _, item := range items {
		subtotal += item.LineTotalCents
		rate := products[item.ProductID].TaxPercent
		taxSum = taxSum.Add(decimal.NewFromInt(item.LineTotalCents).Mul(rate).Div(hundred))
	}
	return subtotal, taxSum.Round(0).IntPart()
}

func (s *Service) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	if id <= 0 {
		return nil, store.Invalid("sale_id", "must be greater than 0")
	}
	return s.repo.GetSale(ctx, id)
}

// ListSales returns recent sale headers, newest first.
func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = defaultSaleListLimit
	}
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) duplicateReceipt(ctx context.Context, key string, saleID int64) (*domain.SaleReceipt, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("idempotent sale replayed",
		zap.Int64("sale_id", sale.ID),
		zap.String("idempotency_key", key),
	)
	s.rememberReceipt(ctx, sale)
	return &domain.SaleReceipt{Sale: *sale, Duplicate: true}, nil
}

// replayIdempotentSale handles a concurrent request that inserted the same
// key first.
func (s *Service) replayIdempotentSale(ctx context.Context, key string) (*domain.SaleReceipt, error) {
	var saleID int64
	err := s.runInTx(ctx, "create_sale", func(tx store.Tx) error {
		var err error
		saleID, err = tx.FindSaleByIdempotencyKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.duplicateReceipt(ctx, key, saleID)
}

func (s *Service) cachedReceipt(ctx context.Context, key string) (*domain.Sale, bool) {
	sale, ok, err := s.receipts.Get(ctx, key)
	if err != nil {
		s.logger(ctx).Warn("receipt cache read failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil, false
	}
	return sale, ok
}

func (s *Service) rememberReceipt(ctx context.Context, sale *domain.Sale) {
	if sale == nil || sale.IdempotencyKey == "" {
		return
	}
	if err := s.receipts.Set(ctx, sale.IdempotencyKey, sale, s.receiptTTL); err != nil {
		s.logger(ctx).Warn("receipt cache write failed", zap.Int64("sale_id", sale.ID), zap.Error(err))
	}
}

func saleKey(saleID int64) string {
	return fmt.Sprintf("sale:%d", saleID)
}
