package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveOperation("create_sale", "ok", 20*time.Millisecond)
	r.ObserveOperation("create_sale", "ok", 10*time.Millisecond)
	r.ObserveOperation("create_sale", "insufficient_stock", time.Millisecond)
	r.ConflictRetry("create_sale")
	r.SaleCommitted(2688)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("create_sale", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("create_sale", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("create_sale")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveOperation("x", "ok", time.Second)
		r.ConflictRetry("x")
		r.SaleCommitted(1)
	})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesRegistry(t *testing.T) {
	r := New()
	r.ObserveOperation("add_stock", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pharmapos_operations_total{operation="add_stock",outcome="ok"} 1`)
}
