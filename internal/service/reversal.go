package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/events"
	"pharmapos/backend/internal/store"
)

// CancelSale voids a whole sale. Every item's quantity goes back to the batch
// it came from, whatever was already returned line by line; earlier Return
// rows stay as history. A sale can be cancelled once.
func (s *Service) CancelSale(ctx context.Context, req domain.CancelSaleRequest) (sale *domain.Sale, err error) {
	defer s.track("cancel_sale", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	reason := defaultString(req.Reason, defaultCancelReason)

	var cancellation domain.Cancellation
	err = s.runInTx(ctx, "cancel_sale", func(tx store.Tx) error {
		header, err := tx.GetSale(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if header.Cancelled() {
			return fmt.Errorf("sale %d: %w", req.SaleID, store.ErrAlreadyCancelled)
		}
		items, err := tx.ListSaleItems(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("sale %d: %w", req.SaleID, store.ErrEmptySale)
		}

		now := s.now().UTC()
		movementReason := fmt.Sprintf("cancellation of sale #%d", req.SaleID)
		for _, item := range items {
			if err := tx.AddBatchQuantity(ctx, item.BatchID, item.Quantity); err != nil {
				return err
			}
			if _, err := tx.AppendMovement(ctx, domain.Movement{
				ProductID: item.ProductID,
				BatchID:   item.BatchID,
				Direction: domain.DirectionIn,
				Quantity:  item.Quantity,
				Reason:    movementReason,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		cancellation = domain.Cancellation{SaleID: req.SaleID, Reason: reason, CreatedAt: now}
		return tx.InsertCancellation(ctx, cancellation)
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", req.SaleID, zap.String("reason", reason))
	s.emit(ctx, events.SaleCancelled, saleKey(req.SaleID), cancellation.CreatedAt, cancellation)

	return s.repo.GetSale(ctx, req.SaleID)
}

// ReturnSaleItem puts part of a sold line back on the shelf, into the same
// batch it was sold from.
func (s *Service) ReturnSaleItem(ctx context.Context, req domain.ReturnItemRequest) (ret *domain.Return, err error) {
	defer s.track("return_sale_item", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	reason := defaultString(req.Reason, defaultReturnReason)

	var (
		created domain.Return
		saleID  int64
	)
	err = s.runInTx(ctx, "return_sale_item", func(tx store.Tx) error {
		item, err := tx.GetSaleItem(ctx, req.SaleItemID)
		if err != nil {
			return err
		}
		saleID = item.SaleID

		sale, err := tx.GetSale(ctx, item.SaleID)
		if err != nil {
			return err
		}
		if sale.Cancelled() {
			return fmt.Errorf("sale %d: %w", sale.ID, store.ErrSaleCancelled)
		}

		returned, err := tx.ReturnedQuantity(ctx, item.ID)
		if err != nil {
			return err
		}
		available := item.Quantity - returned
		if req.Quantity <= 0 || req.Quantity > available {
			return &store.ReturnExceedsAvailableError{
				SaleItemID: item.ID,
				Requested:  req.Quantity,
				Available:  available,
			}
		}

		now := s.now().UTC()
		if err := tx.AddBatchQuantity(ctx, item.BatchID, req.Quantity); err != nil {
			return err
		}
		if _, err := tx.AppendMovement(ctx, domain.Movement{
			ProductID: item.ProductID,
			BatchID:   item.BatchID,
			Direction: domain.DirectionIn,
			Quantity:  req.Quantity,
			Reason:    fmt.Sprintf("return of sale item #%d", item.ID),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		created = domain.Return{SaleItemID: item.ID, Quantity: req.Quantity, Reason: reason, CreatedAt: now}
		created.ID, err = tx.InsertReturn(ctx, created)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "sale_item_return", "sale_item", created.SaleItemID,
		zap.Int64("sale_id", saleID),
		zap.Int("quantity", created.Quantity),
		zap.String("reason", reason),
	)
	s.emit(ctx, events.SaleItemReturned, saleKey(saleID), created.CreatedAt, created)
	return &created, nil
}
