package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

var maxTaxPercent = decimal.NewFromInt(100)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, store.Invalid("product_id", "must be greater than 0")
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (product *domain.Product, err error) {
	defer s.track("create_product", time.Now(), &err)

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.TaxPercent.IsNegative() || req.TaxPercent.GreaterThan(maxTaxPercent) {
		return nil, store.Invalid("tax_percent", "must be between 0 and 100")
	}

	created := domain.Product{
		Barcode:              req.Barcode,
		Name:                 req.Name,
		SellPriceCents:       req.SellPriceCents,
		TaxPercent:           req.TaxPercent,
		RequiresPrescription: req.RequiresPrescription,
		MinStock:             req.MinStock,
	}
	err = s.runInTx(ctx, "create_product", func(tx store.Tx) error {
		created.CreatedAt = s.now().UTC()
		id, err := tx.InsertProduct(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		zap.String("barcode", created.Barcode),
		zap.Int64("sell_price_cents", created.SellPriceCents),
	)
	return &created, nil
}

// DeleteProduct removes a product that no sale or movement references.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (err error) {
	defer s.track("delete_product", time.Now(), &err)

	if id <= 0 {
		return store.Invalid("product_id", "must be greater than 0")
	}
	err = s.runInTx(ctx, "delete_product", func(tx store.Tx) error {
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "product_delete", "product", id)
	return nil
}
