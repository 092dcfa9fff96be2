package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

var today = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func day(offset int) time.Time {
	return domain.DateOf(today).AddDate(0, 0, offset)
}

func TestAllocateFirstExpiryFirst(t *testing.T) {
	batches := []domain.Batch{
		{ID: 2, ProductID: 1, ExpiryDate: day(60), Quantity: 5},
		{ID: 1, ProductID: 1, ExpiryDate: day(30), Quantity: 3},
	}

	tests := []struct {
		name     string
		quantity int
		want     []Fragment
	}{
		{name: "spans two batches", quantity: 4, want: []Fragment{{BatchID: 1, Quantity: 3}, {BatchID: 2, Quantity: 1}}},
		{name: "fits in earliest batch", quantity: 2, want: []Fragment{{BatchID: 1, Quantity: 2}}},
		{name: "drains everything", quantity: 8, want: []Fragment{{BatchID: 1, Quantity: 3}, {BatchID: 2, Quantity: 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Allocate(1, batches, tt.quantity, today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Fragments)
			assert.Equal(t, tt.quantity, plan.Total())
		})
	}
}

func TestAllocateTieBreaksOnBatchID(t *testing.T) {
	batches := []domain.Batch{
		{ID: 9, ExpiryDate: day(10), Quantity: 4},
		{ID: 3, ExpiryDate: day(10), Quantity: 4},
	}

	plan, err := Allocate(1, batches, 5, today)
	require.NoError(t, err)
	assert.Equal(t, []Fragment{{BatchID: 3, Quantity: 4}, {BatchID: 9, Quantity: 1}}, plan.Fragments)
}

func TestAllocateSkipsExpiredBatches(t *testing.T) {
	batches := []domain.Batch{
		{ID: 1, ExpiryDate: day(-1), Quantity: 50},
		{ID: 2, ExpiryDate: day(0), Quantity: 2},
	}

	plan, err := Allocate(1, batches, 2, today)
	require.NoError(t, err)
	assert.Equal(t, []Fragment{{BatchID: 2, Quantity: 2}}, plan.Fragments)

	_, err = Allocate(1, batches, 3, today)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var short *store.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 2, short.Available)
	assert.Equal(t, 3, short.Requested)
}

func TestAllocateRejectsNonPositiveQuantity(t *testing.T) {
	_, err := Allocate(1, []domain.Batch{{ID: 1, ExpiryDate: day(1), Quantity: 1}}, 0, today)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestAllocateShortfallReturnsNoPlan(t *testing.T) {
	plan, err := Allocate(7, []domain.Batch{{ID: 1, ExpiryDate: day(5), Quantity: 1}}, 2, today)
	require.Error(t, err)
	assert.Empty(t, plan.Fragments)
}

func TestAvailableIgnoresEmptyAndExpired(t *testing.T) {
	batches := []domain.Batch{
		{ID: 1, ExpiryDate: day(-3), Quantity: 10},
		{ID: 2, ExpiryDate: day(3), Quantity: 0},
		{ID: 3, ExpiryDate: day(3), Quantity: 6},
	}
	assert.Equal(t, 6, Available(batches, today))
}

func TestLedgerSubtractsEarlierClaims(t *testing.T) {
	batches := []domain.Batch{
		{ID: 1, ExpiryDate: day(5), Quantity: 3},
		{ID: 2, ExpiryDate: day(9), Quantity: 5},
	}
	ledger := NewLedger()

	first, err := Allocate(1, ledger.Remaining(batches), 2, today)
	require.NoError(t, err)
	ledger.Claim(first)

	second, err := Allocate(1, ledger.Remaining(batches), 3, today)
	require.NoError(t, err)
	assert.Equal(t, []Fragment{{BatchID: 1, Quantity: 1}, {BatchID: 2, Quantity: 2}}, second.Fragments)

	assert.Equal(t, 3, batches[0].Quantity, "source batches must not be mutated")
}
