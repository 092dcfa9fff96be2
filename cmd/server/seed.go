package main

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/service"
	"pharmapos/backend/internal/store"
)

type demoProduct struct {
	product domain.ProductCreateRequest
	batches []demoBatch
}

type demoBatch struct {
	label      string
	expiryDays int
	quantity   int
}

var demoCatalog = []demoProduct{
	{
		product: domain.ProductCreateRequest{Barcode: "8991001000011", Name: "Paracetamol 500mg x10", SellPriceCents: 450, TaxPercent: decimal.NewFromInt(11), MinStock: 20},
		batches: []demoBatch{{"PCM-2401", 25, 30}, {"PCM-2407", 210, 120}},
	},
	{
		product: domain.ProductCreateRequest{Barcode: "8991001000028", Name: "Amoxicillin 500mg x10", SellPriceCents: 1800, TaxPercent: decimal.NewFromInt(11), RequiresPrescription: true, MinStock: 10},
		batches: []demoBatch{{"AMX-2403", 60, 40}},
	},
	{
		product: domain.ProductCreateRequest{Barcode: "8991001000035", Name: "Oral Rehydration Salts", SellPriceCents: 300, TaxPercent: decimal.Zero, MinStock: 15},
		batches: []demoBatch{{"ORS-2312", 5, 8}},
	},
	{
		product: domain.ProductCreateRequest{Barcode: "8991001000042", Name: "Vitamin C 1000mg x30", SellPriceCents: 6500, TaxPercent: decimal.RequireFromString("11"), MinStock: 5},
	},
}

// seedDemoData loads a small catalog through the service so every batch gets
// its IN movement. Products that already exist are left alone.
func seedDemoData(ctx context.Context, svc *service.Service) error {
	ctx = service.WithActor(ctx, domain.Actor{Username: "seed", Role: "system"})
	today := time.Now().UTC()

	for _, item := range demoCatalog {
		product, err := svc.CreateProduct(ctx, item.product)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return err
		}
		for _, b := range item.batches {
			_, err := svc.AddStock(ctx, domain.AddStockRequest{
				ProductID:  product.ID,
				Label:      b.label,
				ExpiryDate: today.AddDate(0, 0, b.expiryDays).Format(domain.DateLayout),
				Quantity:   b.quantity,
				Reason:     "opening stock",
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
