// Package allocation plans first-expiry-first-out consumption of batches.
//
// Planning is pure: it reads a batch snapshot and returns which batches to
// draw from and how much. Applying the plan is the caller's job and must
// happen inside the same unit of work that produced the snapshot.
package allocation

import (
	"slices"
	"time"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

type Fragment struct {
	BatchID  int64 `json:"batch_id"`
	Quantity int   `json:"quantity"`
}

type Plan struct {
	ProductID int64      `json:"product_id"`
	Fragments []Fragment `json:"fragments"`
}

func (p Plan) Total() int {
	total := 0
	for _, f := range p.Fragments {
		total += f.Quantity
	}
	return total
}

// Eligible returns the batches that may be consumed on the given day, in
// consumption order. Batches expiring today are still eligible.
func Eligible(batches []domain.Batch, today time.Time) []domain.Batch {
	day := domain.DateOf(today)
	eligible := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if b.Quantity <= 0 {
			continue
		}
		if domain.DateOf(b.ExpiryDate).Before(day) {
			continue
		}
		eligible = append(eligible, b)
	}
	slices.SortStableFunc(eligible, CompareFEFO)
	return eligible
}

// Available is the quantity that Allocate could hand out today.
func Available(batches []domain.Batch, today time.Time) int {
	total := 0
	for _, b := range Eligible(batches, today) {
		total += b.Quantity
	}
	return total
}

// Allocate walks eligible batches earliest expiry first and takes as much as
// each can give until quantity is covered. A shortfall returns an
// *store.InsufficientStockError and no plan.
func Allocate(productID int64, batches []domain.Batch, quantity int, today time.Time) (Plan, error) {
	if quantity <= 0 {
		return Plan{}, store.Invalid("quantity", "must be positive")
	}

	candidates := Eligible(batches, today)
	available := 0
	for _, b := range candidates {
		available += b.Quantity
	}
	if available < quantity {
		return Plan{}, &store.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	remaining := quantity
	fragments := make([]Fragment, 0, 2)
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := min(b.Quantity, remaining)
		fragments = append(fragments, Fragment{BatchID: b.ID, Quantity: take})
		remaining -= take
	}

	return Plan{ProductID: productID, Fragments: fragments}, nil
}

// CompareFEFO orders batches by expiry date, then by id so that batches
// sharing an expiry are consumed in the order they were received.
func CompareFEFO(a domain.Batch, b domain.Batch) int {
	ea, eb := domain.DateOf(a.ExpiryDate), domain.DateOf(b.ExpiryDate)
	if ea.Before(eb) {
		return -1
	}
	if ea.After(eb) {
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Ledger tracks what earlier lines of the same sale have already taken so a
// later line for the same product plans against the remainder.
type Ledger struct {
	consumed map[int64]int
}

func NewLedger() *Ledger {
	return &Ledger{consumed: make(map[int64]int)}
}

// Remaining returns a copy of batches with quantities already claimed in
// this ledger subtracted.
func (l *Ledger) Remaining(batches []domain.Batch) []domain.Batch {
	out := make([]domain.Batch, len(batches))
	for i, b := range batches {
		b.Quantity -= l.consumed[b.ID]
		out[i] = b
	}
	return out
}

func (l *Ledger) Claim(plan Plan) {
	for _, f := range plan.Fragments {
		l.consumed[f.BatchID] += f.Quantity
	}
}
