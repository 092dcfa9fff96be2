package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

const defaultLockTimeout = 5 * time.Second

// Store keeps the ledger in process memory. Writers run one at a time on a
// private copy of the state and publish it on success, so readers always see
// a committed snapshot and never wait on a writer.
type Store struct {
	mu          sync.RWMutex
	current     *state
	writer      *semaphore.Weighted
	lockTimeout time.Duration
}

type Option func(*Store)

// WithLockTimeout bounds how long WithinTx waits for the write scope.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		current:     newState(),
		writer:      semaphore.NewWeighted(1),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.writer.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("acquire write scope: %w", store.ErrConflict)
	}
	defer s.writer.Release(1)

	work := s.snapshot().clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = work
	s.mu.Unlock()
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	return s.snapshot().product(id)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	st := s.snapshot()
	products := make([]domain.Product, 0, len(st.products))
	for _, p := range st.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (s *Store) ListBatches(_ context.Context, productID int64) ([]domain.Batch, error) {
	return s.snapshot().productBatches(productID), nil
}

func (s *Store) ListStockedBatches(_ context.Context) ([]domain.Batch, error) {
	st := s.snapshot()
	batches := make([]domain.Batch, 0, len(st.batches))
	for _, b := range st.batches {
		if b.Quantity > 0 {
			batches = append(batches, b)
		}
	}
	slices.SortFunc(batches, compareBatchForFEFO)
	return batches, nil
}

func (s *Store) StockLevels(_ context.Context) (map[int64]int, error) {
	st := s.snapshot()
	levels := make(map[int64]int, len(st.products))
	for id := range st.products {
		levels[id] = 0
	}
	for _, b := range st.batches {
		levels[b.ProductID] += b.Quantity
	}
	return levels, nil
}

func (s *Store) ListMovements(_ context.Context, productID int64) ([]domain.Movement, error) {
	return s.snapshot().productMovements(productID), nil
}

func (s *Store) ProductLedger(_ context.Context, productID int64) ([]domain.Batch, []domain.Movement, error) {
	st := s.snapshot()
	return st.productBatches(productID), st.productMovements(productID), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	st := s.snapshot()
	sale, err := st.saleHeader(id)
	if err != nil {
		return nil, err
	}

	items := st.saleItems(id)
	for i := range items {
		items[i].ReturnedQuantity = st.returnedQuantity(items[i].ID)
		for _, retID := range st.returnsByItem[items[i].ID] {
			sale.Returns = append(sale.Returns, st.returns[retID])
		}
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	st := s.snapshot()
	if limit <= 0 || limit > len(st.saleOrder) {
		limit = len(st.saleOrder)
	}
	sales := make([]domain.Sale, 0, limit)
	for i := len(st.saleOrder) - 1; i >= 0 && len(sales) < limit; i-- {
		sale, err := st.saleHeader(st.saleOrder[i])
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

type state struct {
	seq int64

	products map[int64]domain.Product
	barcodes map[string]int64

	batches   map[int64]domain.Batch
	movements []domain.Movement

	sales         map[int64]domain.Sale
	saleOrder     []int64
	salesByIdem   map[string]int64
	items         map[int64]domain.SaleItem
	itemsBySale   map[int64][]int64
	cancellations map[int64]domain.Cancellation
	returns       map[int64]domain.Return
	returnsByItem map[int64][]int64
}

func newState() *state {
	return &state{
		products:      make(map[int64]domain.Product),
		barcodes:      make(map[string]int64),
		batches:       make(map[int64]domain.Batch),
		movements:     make([]domain.Movement, 0, 128),
		sales:         make(map[int64]domain.Sale),
		saleOrder:     make([]int64, 0, 64),
		salesByIdem:   make(map[string]int64),
		items:         make(map[int64]domain.SaleItem),
		itemsBySale:   make(map[int64][]int64),
		cancellations: make(map[int64]domain.Cancellation),
		returns:       make(map[int64]domain.Return),
		returnsByItem: make(map[int64][]int64),
	}
}

// clone copies every container so the copy can be mutated without touching
// the published snapshot. Values are plain structs; index slices are
// replaced, never appended in place, by the tx methods.
func (st *state) clone() *state {
	return &state{
		seq:           st.seq,
		products:      maps.Clone(st.products),
		barcodes:      maps.Clone(st.barcodes),
		batches:       maps.Clone(st.batches),
		movements:     slices.Clone(st.movements),
		sales:         maps.Clone(st.sales),
		saleOrder:     slices.Clone(st.saleOrder),
		salesByIdem:   maps.Clone(st.salesByIdem),
		items:         maps.Clone(st.items),
		itemsBySale:   maps.Clone(st.itemsBySale),
		cancellations: maps.Clone(st.cancellations),
		returns:       maps.Clone(st.returns),
		returnsByItem: maps.Clone(st.returnsByItem),
	}
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

func (st *state) product(id int64) (*domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &p, nil
}

func (st *state) productBatches(productID int64) []domain.Batch {
	batches := make([]domain.Batch, 0, 8)
	for _, b := range st.batches {
		if b.ProductID == productID {
			batches = append(batches, b)
		}
	}
	slices.SortFunc(batches, compareBatchForFEFO)
	return batches
}

func (st *state) productMovements(productID int64) []domain.Movement {
	movements := make([]domain.Movement, 0, 16)
	for _, m := range st.movements {
		if m.ProductID == productID {
			movements = append(movements, m)
		}
	}
	return movements
}

func (st *state) saleHeader(id int64) (*domain.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	sale.Items = nil
	sale.Returns = nil
	if c, ok := st.cancellations[id]; ok {
		sale.Cancellation = &c
	}
	return &sale, nil
}

func (st *state) saleItems(saleID int64) []domain.SaleItem {
	ids := st.itemsBySale[saleID]
	items := make([]domain.SaleItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, st.items[id])
	}
	return items
}

func (st *state) returnedQuantity(saleItemID int64) int {
	total := 0
	for _, id := range st.returnsByItem[saleItemID] {
		total += st.returns[id].Quantity
	}
	return total
}

type tx struct {
	st *state
}

func (t *tx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	return t.st.product(id)
}

func (t *tx) InsertProduct(_ context.Context, product domain.Product) (int64, error) {
	if _, exists := t.st.barcodes[product.Barcode]; exists {
		return 0, fmt.Errorf("barcode %q: %w", product.Barcode, store.ErrDuplicate)
	}
	product.ID = t.st.nextID()
	t.st.products[product.ID] = product
	t.st.barcodes[product.Barcode] = product.ID
	return product.ID, nil
}

func (t *tx) DeleteProduct(_ context.Context, id int64) error {
	product, ok := t.st.products[id]
	if !ok {
		return store.NotFound("product", id)
	}
	for _, m := range t.st.movements {
		if m.ProductID == id {
			return fmt.Errorf("product %d: %w", id, store.ErrProductInUse)
		}
	}
	for _, item := range t.st.items {
		if item.ProductID == id {
			return fmt.Errorf("product %d: %w", id, store.ErrProductInUse)
		}
	}
	for batchID, b := range t.st.batches {
		if b.ProductID == id {
			delete(t.st.batches, batchID)
		}
	}
	delete(t.st.products, id)
	delete(t.st.barcodes, product.Barcode)
	return nil
}

func (t *tx) LockBatches(_ context.Context, productID int64) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, 8)
	for _, b := range t.st.batches {
		if b.ProductID == productID && b.Quantity > 0 {
			batches = append(batches, b)
		}
	}
	slices.SortFunc(batches, compareBatchForFEFO)
	return batches, nil
}

func (t *tx) GetBatch(_ context.Context, id int64) (*domain.Batch, error) {
	b, ok := t.st.batches[id]
	if !ok {
		return nil, store.NotFound("batch", id)
	}
	return &b, nil
}

func (t *tx) InsertBatch(_ context.Context, batch domain.Batch) (int64, error) {
	if _, ok := t.st.products[batch.ProductID]; !ok {
		return 0, store.NotFound("product", batch.ProductID)
	}
	if batch.Quantity < 0 {
		return 0, store.ErrNegativeStock
	}
	batch.ID = t.st.nextID()
	batch.ExpiryDate = domain.DateOf(batch.ExpiryDate)
	t.st.batches[batch.ID] = batch
	return batch.ID, nil
}

func (t *tx) AddBatchQuantity(_ context.Context, batchID int64, delta int) error {
	b, ok := t.st.batches[batchID]
	if !ok {
		return store.NotFound("batch", batchID)
	}
	if b.Quantity+delta < 0 {
		return fmt.Errorf("batch %d: %w", batchID, store.ErrNegativeStock)
	}
	b.Quantity += delta
	t.st.batches[batchID] = b
	return nil
}

func (t *tx) AppendMovement(_ context.Context, movement domain.Movement) (int64, error) {
	movement.ID = t.st.nextID()
	t.st.movements = append(t.st.movements, movement)
	return movement.ID, nil
}

func (t *tx) FindSaleByIdempotencyKey(_ context.Context, key string) (int64, error) {
	id, ok := t.st.salesByIdem[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	if sale.IdempotencyKey != "" {
		if _, exists := t.st.salesByIdem[sale.IdempotencyKey]; exists {
			return 0, fmt.Errorf("idempotency key %q: %w", sale.IdempotencyKey, store.ErrDuplicate)
		}
	}
	sale.ID = t.st.nextID()
	sale.Items = nil
	sale.Cancellation = nil
	sale.Returns = nil
	t.st.sales[sale.ID] = sale
	t.st.saleOrder = append(t.st.saleOrder, sale.ID)
	if sale.IdempotencyKey != "" {
		t.st.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return sale.ID, nil
}

func (t *tx) InsertSaleItem(_ context.Context, item domain.SaleItem) (int64, error) {
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return 0, store.NotFound("sale", item.SaleID)
	}
	item.ID = t.st.nextID()
	item.ReturnedQuantity = 0
	t.st.items[item.ID] = item
	ids := slices.Clone(t.st.itemsBySale[item.SaleID])
	t.st.itemsBySale[item.SaleID] = append(ids, item.ID)
	return item.ID, nil
}

func (t *tx) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	return t.st.saleHeader(id)
}

func (t *tx) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleItem, error) {
	return t.st.saleItems(saleID), nil
}

func (t *tx) GetSaleItem(_ context.Context, id int64) (*domain.SaleItem, error) {
	item, ok := t.st.items[id]
	if !ok {
		return nil, store.NotFound("sale item", id)
	}
	return &item, nil
}

func (t *tx) InsertCancellation(_ context.Context, cancellation domain.Cancellation) error {
	if _, ok := t.st.sales[cancellation.SaleID]; !ok {
		return store.NotFound("sale", cancellation.SaleID)
	}
	if _, exists := t.st.cancellations[cancellation.SaleID]; exists {
		return fmt.Errorf("sale %d: %w", cancellation.SaleID, store.ErrAlreadyCancelled)
	}
	t.st.cancellations[cancellation.SaleID] = cancellation
	return nil
}

func (t *tx) ReturnedQuantity(_ context.Context, saleItemID int64) (int, error) {
	return t.st.returnedQuantity(saleItemID), nil
}

func (t *tx) InsertReturn(_ context.Context, ret domain.Return) (int64, error) {
	if _, ok := t.st.items[ret.SaleItemID]; !ok {
		return 0, store.NotFound("sale item", ret.SaleItemID)
	}
	ret.ID = t.st.nextID()
	t.st.returns[ret.ID] = ret
	ids := slices.Clone(t.st.returnsByItem[ret.SaleItemID])
	t.st.returnsByItem[ret.SaleItemID] = append(ids, ret.ID)
	return ret.ID, nil
}

func compareBatchForFEFO(a domain.Batch, b domain.Batch) int {
	if a.ExpiryDate.Before(b.ExpiryDate) {
		return -1
	}
	if a.ExpiryDate.After(b.ExpiryDate) {
		return 1
	}
	return cmpInt64(a.ID, b.ID)
}

func cmpInt64(a int64, b int64) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
