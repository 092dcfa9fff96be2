package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionIn     Direction = "IN"
	DirectionOut    Direction = "OUT"
	DirectionAdjust Direction = "ADJUST"
)

const DateLayout = "2006-01-02"

type Product struct {
	ID                   int64           `json:"id"`
	Barcode              string          `json:"barcode"`
	Name                 string          `json:"name"`
	SellPriceCents       int64           `json:"sell_price_cents"`
	TaxPercent           decimal.Decimal `json:"tax_percent"`
	RequiresPrescription bool            `json:"requires_prescription"`
	MinStock             int             `json:"min_stock"`
	CreatedAt            time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Barcode              string          `json:"barcode" validate:"required,max=64"`
	Name                 string          `json:"name" validate:"required,max=200"`
	SellPriceCents       int64           `json:"sell_price_cents" validate:"gte=0"`
	TaxPercent           decimal.Decimal `json:"tax_percent"`
	RequiresPrescription bool            `json:"requires_prescription"`
	MinStock             int             `json:"min_stock" validate:"gte=0"`
}

type Batch struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	Label      string    `json:"label"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
	ReceivedAt time.Time `json:"received_at"`
}

type AddStockRequest struct {
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	Label      string `json:"label" validate:"required,max=64"`
	ExpiryDate string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	Reason     string `json:"reason" validate:"max=255"`
}

type AdjustBatchRequest struct {
	BatchID         int64  `json:"batch_id" validate:"required,gt=0"`
	CountedQuantity int    `json:"counted_quantity" validate:"gte=0"`
	Reason          string `json:"reason" validate:"max=255"`
}

type Movement struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	BatchID   int64     `json:"batch_id"`
	Direction Direction `json:"direction"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Delta is the signed effect of the movement on stock. ADJUST records a
// stock-count write-off and therefore counts against stock.
func (m Movement) Delta() int {
	if m.Direction == DirectionIn {
		return m.Quantity
	}
	return -m.Quantity
}

type CartLine struct {
	ProductID            int64 `json:"product_id" validate:"required,gt=0"`
	Quantity             int   `json:"quantity" validate:"gt=0"`
	PrescriptionVerified bool  `json:"prescription_verified"`
}

type CreateSaleRequest struct {
	CashierID      string     `json:"cashier_id" validate:"required,max=64"`
	PaymentMethod  string     `json:"payment_method" validate:"required,max=32"`
	IdempotencyKey string     `json:"idempotency_key" validate:"max=128"`
	Lines          []CartLine `json:"lines" validate:"required,min=1,dive"`
}

type Sale struct {
	ID             int64         `json:"id"`
	CashierID      string        `json:"cashier_id"`
	SubtotalCents  int64         `json:"subtotal_cents"`
	TaxCents       int64         `json:"tax_cents"`
	TotalCents     int64         `json:"total_cents"`
	PaymentMethod  string        `json:"payment_method"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Items          []SaleItem    `json:"items,omitempty"`
	Cancellation   *Cancellation `json:"cancellation,omitempty"`
	Returns        []Return      `json:"returns,omitempty"`
}

func (s Sale) Cancelled() bool {
	return s.Cancellation != nil
}

type SaleItem struct {
	ID               int64 `json:"id"`
	SaleID           int64 `json:"sale_id"`
	ProductID        int64 `json:"product_id"`
	BatchID          int64 `json:"batch_id"`
	Quantity         int   `json:"quantity"`
	UnitPriceCents   int64 `json:"unit_price_cents"`
	LineTotalCents   int64 `json:"line_total_cents"`
	ReturnedQuantity int   `json:"returned_quantity"`
}

type SaleReceipt struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type Cancellation struct {
	SaleID    int64     `json:"sale_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type CancelSaleRequest struct {
	SaleID     int64  `json:"sale_id" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"max=255"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type Return struct {
	ID         int64     `json:"id"`
	SaleItemID int64     `json:"sale_item_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReturnItemRequest struct {
	SaleItemID int64  `json:"sale_item_id" validate:"required,gt=0"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason" validate:"max=255"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type LowStockProduct struct {
	Product  Product `json:"product"`
	Stock    int     `json:"stock"`
	MinStock int     `json:"min_stock"`
}

type ExpiringBatch struct {
	Batch       Batch  `json:"batch"`
	ProductName string `json:"product_name"`
	Barcode     string `json:"barcode"`
	DaysLeft    int    `json:"days_left"`
}

type Reconciliation struct {
	ProductID     int64 `json:"product_id"`
	BatchTotal    int   `json:"batch_total"`
	MovementTotal int   `json:"movement_total"`
	Balanced      bool  `json:"balanced"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
