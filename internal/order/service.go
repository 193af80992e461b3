// Package order implements the order aggregate: adding products to an order
// while keeping stock, line items and the order total consistent.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/internal/inventory"
	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
	"github.com/nazeru/tx-lab-orders-go/pkg/logging"
)

const tracerName = "github.com/nazeru/tx-lab-orders-go/internal/order"

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeIncreased Outcome = "increased"
)

type AddItemInput struct {
	OrderID        domain.OrderID
	ProductID      domain.ProductID
	Quantity       int
	IdempotencyKey string
}

type AddItemResult struct {
	Message       string          `json:"message"`
	Outcome       Outcome         `json:"outcome"`
	OrderItemID   domain.ItemID   `json:"order_item_id"`
	TotalQuantity int             `json:"total_quantity"`
	OrderTotal    decimal.Decimal `json:"order_total"`
	StockLeft     int             `json:"stock_left"`

	// Replayed is set when the result was served from a stored idempotency key.
	Replayed bool `json:"-"`
}

// ProductCache is an optional read-through cache for product lookups. Get
// returns a generation token that Set must receive back; Set drops the write
// when Invalidate ran in between.
type ProductCache interface {
	Get(ctx context.Context, id domain.ProductID) (domain.ProductView, uint64, bool)
	Set(ctx context.Context, p domain.ProductView, gen uint64)
	Invalidate(ctx context.Context, id domain.ProductID)
}

type Service struct {
	store  store.Store
	ledger *inventory.Ledger
	cache  ProductCache
	log    *zap.Logger
	tracer trace.Tracer
	topic  string
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithCache(c ProductCache) Option { return func(s *Service) { s.cache = c } }

// WithEvents makes every successful AddItem append an event for topic to the outbox.
func WithEvents(topic string) Option { return func(s *Service) { s.topic = topic } }

func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

func NewService(st store.Store, ledger *inventory.Ledger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ledger: ledger,
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem adds quantity of a product to an order. A product already present
// in the order has its line merged; the stock check then covers the merged
// quantity while the stock is decremented by the added quantity only.
//
// Order existence is checked before product existence, and every check runs
// before the first write, so a failed call leaves no trace.
func (s *Service) AddItem(ctx context.Context, in AddItemInput) (AddItemResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.add_item", trace.WithAttributes(
		attribute.Int64("order.id", int64(in.OrderID)),
		attribute.Int64("product.id", int64(in.ProductID)),
		attribute.Int("item.quantity", in.Quantity),
	))
	defer span.End()
	start := s.now()

	if in.IdempotencyKey != "" {
		res, ok, err := s.replay(ctx, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency lookup failed")
			s.logOutcome(in, "rejected", start, err)
			return AddItemResult{}, err
		}
		if ok {
			return s.replayed(span, in, start, res), nil
		}
	}

	var res AddItemResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = s.addItem(ctx, tx, in)
		return err
	})
	if err != nil && errors.Is(err, store.ErrDuplicate) && in.IdempotencyKey != "" {
		// a concurrent request with the same key committed first
		prev, ok, rerr := s.replay(ctx, in)
		switch {
		case rerr != nil:
			err = rerr
		case ok:
			return s.replayed(span, in, start, prev), nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add item failed")
		s.logOutcome(in, "rejected", start, err)
		return AddItemResult{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, in.ProductID)
	}
	span.SetAttributes(
		attribute.String("item.outcome", string(res.Outcome)),
		attribute.Int("item.total_quantity", res.TotalQuantity),
		attribute.String("order.total", res.OrderTotal.StringFixed(domain.MoneyScale)),
	)
	s.logOutcome(in, string(res.Outcome), start, nil)
	return res, nil
}

func (s *Service) addItem(ctx context.Context, tx store.Tx, in AddItemInput) (AddItemResult, error) {
	if _, err := tx.LockOrder(ctx, in.OrderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AddItemResult{}, domain.NotFound(domain.SubjectOrder, int64(in.OrderID))
		}
		return AddItemResult{}, fmt.Errorf("lock order %d: %w", in.OrderID, err)
	}

	product, err := s.ledger.Lookup(ctx, tx, in.ProductID)
	if err != nil {
		return AddItemResult{}, err
	}

	item, err := tx.FindOrderItem(ctx, in.OrderID, in.ProductID)
	exists := true
	if errors.Is(err, store.ErrNotFound) {
		exists = false
	} else if err != nil {
		return AddItemResult{}, fmt.Errorf("find order item: %w", err)
	}

	var res AddItemResult
	if exists {
		merged := item.Quantity + in.Quantity
		if _, err := s.ledger.CheckAvailable(product, merged); err != nil {
			var stockErr *domain.InsufficientStockError
			if errors.As(err, &stockErr) {
				stockErr.InOrder = item.Quantity
				stockErr.Added = in.Quantity
			}
			return AddItemResult{}, err
		}
		if err := tx.SetOrderItemQuantity(ctx, item.ID, merged); err != nil {
			return AddItemResult{}, fmt.Errorf("update order item %d: %w", item.ID, err)
		}
		item.Quantity = merged
		res.Outcome = OutcomeIncreased
		res.Message = fmt.Sprintf("Quantity of product '%s' in the order increased by %d", product.Name, in.Quantity)
	} else {
		if _, err := s.ledger.CheckAvailable(product, in.Quantity); err != nil {
			return AddItemResult{}, err
		}
		item = domain.OrderItem{
			OrderID:   in.OrderID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Price:     product.Price,
		}
		if err := tx.CreateOrderItem(ctx, &item); err != nil {
			return AddItemResult{}, fmt.Errorf("create order item: %w", err)
		}
		res.Outcome = OutcomeCreated
		res.Message = fmt.Sprintf("Product '%s' added to the order, quantity %d", product.Name, in.Quantity)
	}

	left, err := s.ledger.Commit(ctx, tx, product, in.Quantity)
	if err != nil {
		return AddItemResult{}, err
	}

	total, err := s.recomputeTotal(ctx, tx, in.OrderID)
	if err != nil {
		return AddItemResult{}, err
	}

	res.OrderItemID = item.ID
	res.TotalQuantity = item.Quantity
	res.OrderTotal = total
	res.StockLeft = left

	if s.topic != "" {
		if err := tx.AppendOutbox(ctx, s.topic, s.itemEvent(in, res)); err != nil {
			return AddItemResult{}, fmt.Errorf("append outbox: %w", err)
		}
	}
	if in.IdempotencyKey != "" {
		body, err := json.Marshal(res)
		if err != nil {
			return AddItemResult{}, err
		}
		rec := store.IdempotentRecord{OrderID: in.OrderID, ProductID: in.ProductID, Quantity: in.Quantity, Body: body}
		if err := tx.SaveIdempotentResult(ctx, in.IdempotencyKey, rec); err != nil {
			return AddItemResult{}, fmt.Errorf("save idempotency key: %w", err)
		}
	}
	return res, nil
}

// recomputeTotal derives the order total from the committed lines of the
// current transaction and stores it on the order.
func (s *Service) recomputeTotal(ctx context.Context, tx store.Tx, id domain.OrderID) (decimal.Decimal, error) {
	total, err := tx.SumOrderItems(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum order %d: %w", id, err)
	}
	total = total.Round(domain.MoneyScale)
	if err := tx.SetOrderTotal(ctx, id, total); err != nil {
		return decimal.Zero, fmt.Errorf("set order %d total: %w", id, err)
	}
	return total, nil
}

// replay returns the stored result for the request's key. A key first used
// with another order, product or quantity is an IdempotencyConflictError.
func (s *Service) replay(ctx context.Context, in AddItemInput) (AddItemResult, bool, error) {
	rec, err := s.store.IdempotentResult(ctx, in.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return AddItemResult{}, false, nil
	}
	if err != nil {
		return AddItemResult{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if rec.OrderID != in.OrderID || rec.ProductID != in.ProductID || rec.Quantity != in.Quantity {
		return AddItemResult{}, false, &domain.IdempotencyConflictError{
			Key:       in.IdempotencyKey,
			OrderID:   rec.OrderID,
			ProductID: rec.ProductID,
			Quantity:  rec.Quantity,
		}
	}
	var res AddItemResult
	if err := json.Unmarshal(rec.Body, &res); err != nil {
		return AddItemResult{}, false, fmt.Errorf("decode idempotent result: %w", err)
	}
	res.Replayed = true
	return res, true, nil
}

func (s *Service) replayed(span trace.Span, in AddItemInput, start time.Time, res AddItemResult) AddItemResult {
	span.SetAttributes(attribute.Bool("idempotent.replay", true))
	s.logOutcome(in, "replayed", start, nil)
	return res
}

func (s *Service) itemEvent(in AddItemInput, res AddItemResult) contracts.Event {
	typ := contracts.EventOrderItemAdded
	if res.Outcome == OutcomeIncreased {
		typ = contracts.EventOrderItemIncreased
	}
	return contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   int64(in.OrderID),
		CreatedAt: s.now().UTC(),
		Type:      typ,
		Payload: map[string]any{
			contracts.KeyProductID:     int64(in.ProductID),
			contracts.KeyOrderItemID:   int64(res.OrderItemID),
			contracts.KeyQuantity:      in.Quantity,
			contracts.KeyTotalQuantity: res.TotalQuantity,
			contracts.KeyOrderTotal:    res.OrderTotal.StringFixed(domain.MoneyScale),
			contracts.KeyStockLeft:     res.StockLeft,
		},
	}
}

func (s *Service) logOutcome(in AddItemInput, status string, start time.Time, err error) {
	f := logging.Fields{
		OrderID:    int64(in.OrderID),
		ProductID:  int64(in.ProductID),
		Step:       "add_item",
		Status:     status,
		DurationMS: s.now().Sub(start).Milliseconds(),
		Message:    "add item",
	}
	if err != nil {
		logging.Warn(s.log, f, err)
		return
	}
	logging.Log(s.log, f)
}

// Order returns the order with its lines.
func (s *Service) Order(ctx context.Context, id domain.OrderID) (domain.OrderView, error) {
	o, err := s.store.Order(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.OrderView{}, domain.NotFound(domain.SubjectOrder, int64(id))
	}
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("load order %d: %w", id, err)
	}
	return o, nil
}

// Product returns the catalog entry, consulting the cache first when one is set.
func (s *Service) Product(ctx context.Context, id domain.ProductID) (domain.ProductView, error) {
	var gen uint64
	if s.cache != nil {
		p, g, ok := s.cache.Get(ctx, id)
		if ok {
			return p, nil
		}
		gen = g
	}
	p, err := s.store.Product(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ProductView{}, domain.NotFound(domain.SubjectProduct, int64(id))
	}
	if err != nil {
		return domain.ProductView{}, fmt.Errorf("load product %d: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, p, gen)
	}
	return p, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
