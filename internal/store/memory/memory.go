// Package memory is an in-process Store. A transaction works on a private copy
// of the whole state and replaces the shared state only on success, under one
// store-wide lock. It serves tests and single-process local runs; several
// processes never share it.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
	"github.com/nazeru/tx-lab-orders-go/pkg/outbox"
)

type pairKey struct {
	order   domain.OrderID
	product domain.ProductID
}

type state struct {
	categories map[domain.CategoryID]domain.Category
	products   map[domain.ProductID]domain.Product
	clients    map[domain.ClientID]domain.Client
	orders     map[domain.OrderID]domain.Order
	items      map[domain.ItemID]domain.OrderItem
	pairs      map[pairKey]domain.ItemID
	idem       map[string]store.IdempotentRecord
	outbox     []outbox.Record

	nextItemID   domain.ItemID
	nextOutboxID int64
}

func newState() *state {
	return &state{
		categories: map[domain.CategoryID]domain.Category{},
		products:   map[domain.ProductID]domain.Product{},
		clients:    map[domain.ClientID]domain.Client{},
		orders:     map[domain.OrderID]domain.Order{},
		items:      map[domain.ItemID]domain.OrderItem{},
		pairs:      map[pairKey]domain.ItemID{},
		idem:       map[string]store.IdempotentRecord{},
	}
}

func (s *state) clone() *state {
	c := &state{
		categories:   make(map[domain.CategoryID]domain.Category, len(s.categories)),
		products:     make(map[domain.ProductID]domain.Product, len(s.products)),
		clients:      make(map[domain.ClientID]domain.Client, len(s.clients)),
		orders:       make(map[domain.OrderID]domain.Order, len(s.orders)),
		items:        make(map[domain.ItemID]domain.OrderItem, len(s.items)),
		pairs:        make(map[pairKey]domain.ItemID, len(s.pairs)),
		idem:         make(map[string]store.IdempotentRecord, len(s.idem)),
		outbox:       append([]outbox.Record(nil), s.outbox...),
		nextItemID:   s.nextItemID,
		nextOutboxID: s.nextOutboxID,
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	return c
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

var _ store.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Order(ctx context.Context, id domain.OrderID) (domain.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return domain.OrderView{}, store.ErrNotFound
	}
	view := domain.OrderView{Order: o}
	for _, it := range s.st.itemsOf(id) {
		view.Items = append(view.Items, domain.OrderLine{OrderItem: it, ProductName: s.st.products[it.ProductID].Name})
	}
	return view, nil
}

func (s *Store) Product(ctx context.Context, id domain.ProductID) (domain.ProductView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return domain.ProductView{}, store.ErrNotFound
	}
	view := domain.ProductView{Product: p}
	if p.CategoryID != nil {
		if c, ok := s.st.categories[*p.CategoryID]; ok {
			name := c.Name
			view.CategoryName = &name
		}
	}
	return view, nil
}

func (s *Store) IdempotentResult(ctx context.Context, key string) (store.IdempotentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.idem[key]
	if !ok {
		return store.IdempotentRecord{}, store.ErrNotFound
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// FetchPending and MarkSent let the outbox relay drain this store.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Record
	for _, rec := range s.st.outbox {
		if rec.SentAt != nil {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			now := s.now()
			s.st.outbox[i].SentAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

// Outbox returns every record, sent or not.
func (s *Store) Outbox() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Record(nil), s.st.outbox...)
}

func (s *Store) PutCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.categories[c.ID] = c
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.products[p.ID] = p
}

func (s *Store) PutClient(c domain.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.clients[c.ID] = c
}

func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
		o.UpdatedAt = o.CreatedAt
		o.OrderDate = o.CreatedAt
	}
	s.st.orders[o.ID] = o
}

// SetPrice changes a catalog price. Lines already in orders keep their captured price.
func (s *Store) SetPrice(id domain.ProductID, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Price = price
	p.UpdatedAt = s.now()
	s.st.products[id] = p
	return nil
}

// Seed loads the demo catalog also used by the Postgres store.
func (s *Store) Seed() {
	cat := domain.CategoryID(1)
	s.PutCategory(domain.Category{ID: cat, Name: "Electronics", Path: "1"})
	s.PutProduct(domain.Product{ID: 1, Name: "Smartphone", Quantity: 10, Price: decimal.RequireFromString("50000.00"), CategoryID: &cat})
	s.PutProduct(domain.Product{ID: 2, Name: "Laptop", Quantity: 5, Price: decimal.RequireFromString("80000.00"), CategoryID: &cat})
	s.PutClient(domain.Client{ID: 1, Name: "Demo client", Address: "Demo address"})
	s.PutOrder(domain.Order{ID: 1, ClientID: 1, TotalAmount: decimal.Zero})
}

func (s *state) itemsOf(id domain.OrderID) []domain.OrderItem {
	var out []domain.OrderItem
	for _, it := range s.items {
		if it.OrderID == id {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (t *tx) LockProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) FindOrderItem(ctx context.Context, orderID domain.OrderID, productID domain.ProductID) (domain.OrderItem, error) {
	id, ok := t.st.pairs[pairKey{orderID, productID}]
	if !ok {
		return domain.OrderItem{}, store.ErrNotFound
	}
	return t.st.items[id], nil
}

func (t *tx) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	k := pairKey{item.OrderID, item.ProductID}
	if _, ok := t.st.pairs[k]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return store.ErrNotFound
	}
	t.st.nextItemID++
	item.ID = t.st.nextItemID
	item.CreatedAt = t.now()
	t.st.items[item.ID] = *item
	t.st.pairs[k] = item.ID
	return nil
}

func (t *tx) SetOrderItemQuantity(ctx context.Context, id domain.ItemID, quantity int) error {
	it, ok := t.st.items[id]
	if !ok {
		return store.ErrNotFound
	}
	it.Quantity = quantity
	t.st.items[id] = it
	return nil
}

func (t *tx) DecrementStock(ctx context.Context, id domain.ProductID, qty int) (int, error) {
	p, ok := t.st.products[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	if p.Quantity < qty {
		return p.Quantity, store.ErrStockConflict
	}
	p.Quantity -= qty
	p.UpdatedAt = t.now()
	t.st.products[id] = p
	return p.Quantity, nil
}

func (t *tx) SumOrderItems(ctx context.Context, orderID domain.OrderID) (decimal.Decimal, error) {
	return domain.SumLines(t.st.itemsOf(orderID)), nil
}

func (t *tx) SetOrderTotal(ctx context.Context, orderID domain.OrderID, total decimal.Decimal) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.TotalAmount = total
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return nil
}

func (t *tx) SaveIdempotentResult(ctx context.Context, key string, rec store.IdempotentRecord) error {
	if _, ok := t.st.idem[key]; ok {
		return store.ErrDuplicate
	}
	rec.Body = append([]byte(nil), rec.Body...)
	t.st.idem[key] = rec
	return nil
}

func (t *tx) AppendOutbox(ctx context.Context, topic string, evt contracts.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	t.st.nextOutboxID++
	t.st.outbox = append(t.st.outbox, outbox.Record{
		ID:        t.st.nextOutboxID,
		EventID:   evt.EventID,
		Topic:     topic,
		Key:       strconv.FormatInt(evt.OrderID, 10),
		Payload:   payload,
		CreatedAt: t.now(),
	})
	return nil
}
