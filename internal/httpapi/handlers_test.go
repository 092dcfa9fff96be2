package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/metrics"
	"pharmapos/backend/internal/service"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T, opts ...Option) *API {
	t.Helper()

	repo := memory.New()
	t.Cleanup(func() { _ = repo.Close() })
	svc := service.New(repo)
	users := NewStaticUserStore(SeededUsers("admin123", "kasir123", time.Now().UTC())...)
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, users)

	return New(svc, auth, "*", opts...)
}

type testClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username string, password string) *testClient {
	t.Helper()
	c := &testClient{t: t, handler: api.Handler()}
	c.token = login(t, c.handler, username, password)
	c.csrf = fetchCSRFToken(t, api)
	return c
}

func (c *testClient) do(method string, path string, body any, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func dateIn(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(domain.DateLayout)
}

func (c *testClient) createProduct(barcode string, price int64, rx bool) domain.Product {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/products", map[string]any{
		"barcode":               barcode,
		"name":                  "Product " + barcode,
		"sell_price_cents":      price,
		"tax_percent":           "10",
		"requires_prescription": rx,
		"min_stock":             2,
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Product domain.Product `json:"product"`
	}](c.t, rec).Product
}

func (c *testClient) addStock(productID int64, label string, expiryDays int, qty int) domain.Batch {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/stock", domain.AddStockRequest{
		ProductID:  productID,
		Label:      label,
		ExpiryDate: dateIn(expiryDays),
		Quantity:   qty,
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Batch domain.Batch `json:"batch"`
	}](c.t, rec).Batch
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestMetricsEndpointIsOptional(t *testing.T) {
	without := newTestAPI(t)
	rec := httptest.NewRecorder()
	without.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	with := newTestAPI(t, WithMetricsHandler(metrics.New().Handler()))
	rec = httptest.NewRecorder()
	with.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashierCannotManageInventory(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "kasir", "kasir123")

	rec := cashier.do(http.MethodPost, "/api/v1/products", map[string]any{"barcode": "X", "name": "X"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = cashier.do(http.MethodPost, "/api/v1/stock", domain.AddStockRequest{ProductID: 1, Label: "L", ExpiryDate: dateIn(5), Quantity: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/products", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "kasir", "kasir123")

	product := admin.createProduct("8990001", 1500, false)
	admin.addStock(product.ID, "LOT-B", 60, 5)
	early := admin.addStock(product.ID, "LOT-A", 20, 2)

	sale := domain.CreateSaleRequest{
		PaymentMethod: "Cash",
		Lines:         []domain.CartLine{{ProductID: product.ID, Quantity: 3}},
	}
	rec := cashier.do(http.MethodPost, "/api/v1/sales", sale, "Idempotency-Key", "till-9-0001")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.SaleReceipt](t, rec)
	assert.Equal(t, "kasir", created.Sale.CashierID)
	assert.Equal(t, "cash", created.Sale.PaymentMethod)
	assert.Equal(t, int64(4500), created.Sale.SubtotalCents)
	assert.Equal(t, int64(450), created.Sale.TaxCents)
	require.Len(t, created.Sale.Items, 2)
	assert.Equal(t, early.ID, created.Sale.Items[0].BatchID)

	rec = cashier.do(http.MethodPost, "/api/v1/sales", sale, "Idempotency-Key", "till-9-0001")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replayed := decodeBody[domain.SaleReceipt](t, rec)
	assert.True(t, replayed.Duplicate)
	assert.Equal(t, created.Sale.ID, replayed.Sale.ID)

	rec = cashier.do(http.MethodGet, fmt.Sprintf("/api/v1/products/%d/stock", product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decodeBody[map[string]any](t, rec)["stock"])

	itemPath := fmt.Sprintf("/api/v1/sale-items/%d/returns", created.Sale.Items[1].ID)
	rec = cashier.do(http.MethodPost, itemPath, map[string]any{"quantity": 1, "manager_pin": "000000"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = cashier.do(http.MethodPost, itemPath, map[string]any{"quantity": 1, "manager_pin": testManagerPIN})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, itemPath, map[string]any{"quantity": 1, "manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	cancelPath := fmt.Sprintf("/api/v1/sales/%d/cancel", created.Sale.ID)
	rec = cashier.do(http.MethodPost, cancelPath, map[string]any{"reason": "wrong customer", "manager_pin": testManagerPIN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, cancelPath, map[string]any{"manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = cashier.do(http.MethodGet, fmt.Sprintf("/api/v1/sales/%d", created.Sale.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "wrong customer", got.Cancellation.Reason)

	rec = admin.do(http.MethodGet, fmt.Sprintf("/api/v1/products/%d/reconciliation", product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rc := decodeBody[domain.Reconciliation](t, rec)
	assert.True(t, rc.Balanced)
	assert.Equal(t, 8, rc.BatchTotal)
}

func TestSaleErrorsMapToStatus(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	plain := admin.createProduct("PLAIN", 500, false)
	rx := admin.createProduct("RX", 500, true)
	admin.addStock(plain.ID, "P", 30, 1)
	admin.addStock(rx.ID, "R", 30, 1)

	tests := []struct {
		name   string
		lines  []domain.CartLine
		status int
	}{
		{name: "shortfall", lines: []domain.CartLine{{ProductID: plain.ID, Quantity: 2}}, status: http.StatusConflict},
		{name: "prescription", lines: []domain.CartLine{{ProductID: rx.ID, Quantity: 1}}, status: http.StatusUnprocessableEntity},
		{name: "unknown product", lines: []domain.CartLine{{ProductID: 9999, Quantity: 1}}, status: http.StatusNotFound},
		{name: "empty cart", lines: nil, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := admin.do(http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{PaymentMethod: "cash", Lines: tt.lines})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestInventoryReports(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	product := admin.createProduct("REPORT", 100, false)
	batch := admin.addStock(product.ID, "SOON", 3, 1)
	admin.addStock(product.ID, "LATER", 200, 1)

	rec := admin.do(http.MethodGet, "/api/v1/inventory/low-stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	low := decodeBody[struct {
		Products []domain.LowStockProduct `json:"products"`
	}](t, rec).Products
	require.Len(t, low, 1)
	assert.Equal(t, 2, low[0].Stock)

	rec = admin.do(http.MethodGet, "/api/v1/inventory/expiring?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	expiring := decodeBody[struct {
		Batches []domain.ExpiringBatch `json:"batches"`
	}](t, rec).Batches
	require.Len(t, expiring, 1)
	assert.Equal(t, batch.ID, expiring[0].Batch.ID)

	rec = admin.do(http.MethodGet, "/api/v1/inventory/expiring?days=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin.do(http.MethodPost, fmt.Sprintf("/api/v1/batches/%d/adjust", batch.ID), map[string]any{"counted_quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodGet, fmt.Sprintf("/api/v1/products/%d/movements", product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decodeBody[struct {
		Movements []domain.Movement `json:"movements"`
	}](t, rec).Movements
	require.Len(t, movements, 3)
	assert.Equal(t, domain.DirectionAdjust, movements[2].Direction)

	rec = admin.do(http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", product.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = admin.do(http.MethodGet, "/api/v1/products/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.Invalid("quantity", "must be positive"), http.StatusBadRequest},
		{store.NotFound("sale", 4), http.StatusNotFound},
		{&store.InsufficientStockError{ProductID: 1}, http.StatusConflict},
		{&store.PrescriptionRequiredError{ProductID: 1}, http.StatusUnprocessableEntity},
		{store.ErrAlreadyCancelled, http.StatusConflict},
		{store.ErrSaleCancelled, http.StatusConflict},
		{&store.ReturnExceedsAvailableError{}, http.StatusConflict},
		{store.ErrProductInUse, http.StatusConflict},
		{fmt.Errorf("commit: %w", store.ErrConflict), http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}

	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil), store.ErrConflict)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
