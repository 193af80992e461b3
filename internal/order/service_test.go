package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/nazeru/tx-lab-orders-go/internal/inventory"
	"github.com/nazeru/tx-lab-orders-go/internal/order"
	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/internal/store/memory"
	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
)

const (
	smartphone domain.ProductID = 1
	laptop     domain.ProductID = 2
	demoOrder  domain.OrderID   = 1
)

type ServiceSuite struct {
	suite.Suite
	mem *memory.Store
	svc *order.Service
	ctx context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = memory.New()
	s.mem.Seed()
	s.svc = order.NewService(s.mem, inventory.NewLedger(),
		order.WithLogger(zaptest.NewLogger(s.T())),
		order.WithEvents("order-events"),
	)
}

func (s *ServiceSuite) add(orderID domain.OrderID, productID domain.ProductID, qty int) (order.AddItemResult, error) {
	return s.svc.AddItem(s.ctx, order.AddItemInput{OrderID: orderID, ProductID: productID, Quantity: qty})
}

func (s *ServiceSuite) stock(id domain.ProductID) int {
	p, err := s.mem.Product(s.ctx, id)
	s.Require().NoError(err)
	return p.Quantity
}

func (s *ServiceSuite) orderView(id domain.OrderID) domain.OrderView {
	o, err := s.svc.Order(s.ctx, id)
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) TestAddNewLine() {
	res, err := s.add(demoOrder, smartphone, 2)
	s.Require().NoError(err)

	s.Equal(order.OutcomeCreated, res.Outcome)
	s.Equal("Product 'Smartphone' added to the order, quantity 2", res.Message)
	s.Equal(2, res.TotalQuantity)
	s.Equal(8, res.StockLeft)
	s.Equal("100000.00", res.OrderTotal.StringFixed(2))
	s.Equal(8, s.stock(smartphone))

	o := s.orderView(demoOrder)
	s.Require().Len(o.Items, 1)
	s.Equal(res.OrderItemID, o.Items[0].ID)
	s.Equal(2, o.Items[0].Quantity)
	s.Equal("Smartphone", o.Items[0].ProductName)
	s.True(o.TotalAmount.Equal(decimal.RequireFromString("100000.00")))
}

func (s *ServiceSuite) TestMergeIncreasesExistingLine() {
	first, err := s.add(demoOrder, smartphone, 2)
	s.Require().NoError(err)

	res, err := s.add(demoOrder, smartphone, 3)
	s.Require().NoError(err)

	s.Equal(order.OutcomeIncreased, res.Outcome)
	s.Equal("Quantity of product 'Smartphone' in the order increased by 3", res.Message)
	s.Equal(first.OrderItemID, res.OrderItemID)
	s.Equal(5, res.TotalQuantity)
	s.Equal(5, res.StockLeft)
	s.Equal(5, s.stock(smartphone))
	s.Len(s.orderView(demoOrder).Items, 1)
}

func (s *ServiceSuite) TestMergeOverStockLeavesStateUntouched() {
	_, err := s.add(demoOrder, smartphone, 2)
	s.Require().NoError(err)
	_, err = s.add(demoOrder, smartphone, 3)
	s.Require().NoError(err)
	before := s.orderView(demoOrder)

	_, err = s.add(demoOrder, smartphone, 10)
	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(15, stockErr.Requested)
	s.Equal(5, stockErr.Available)
	s.Equal(5, stockErr.InOrder)
	s.Equal(10, stockErr.Added)
	s.True(stockErr.Merge())

	s.Equal(5, s.stock(smartphone))
	after := s.orderView(demoOrder)
	s.Equal(5, after.Items[0].Quantity)
	s.True(before.TotalAmount.Equal(after.TotalAmount))
	s.Len(s.mem.Outbox(), 2)
}

func (s *ServiceSuite) TestNewLineOverStock() {
	_, err := s.add(demoOrder, laptop, 6)
	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(6, stockErr.Requested)
	s.Equal(5, stockErr.Available)
	s.False(stockErr.Merge())
	s.Equal(5, s.stock(laptop))
	s.Empty(s.orderView(demoOrder).Items)
}

func (s *ServiceSuite) TestTakeWholeStock() {
	res, err := s.add(demoOrder, laptop, 5)
	s.Require().NoError(err)
	s.Equal(0, res.StockLeft)

	_, err = s.add(demoOrder, laptop, 1)
	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(6, stockErr.Requested)
	s.Equal(0, stockErr.Available)
}

func (s *ServiceSuite) TestUnknownOrderWinsOverUnknownProduct() {
	for _, productID := range []domain.ProductID{smartphone, 999} {
		_, err := s.add(999, productID, 1)
		var nf *domain.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal(domain.SubjectOrder, nf.Subject)
		s.Equal(int64(999), nf.ID)
	}
	s.Equal(10, s.stock(smartphone))
}

func (s *ServiceSuite) TestUnknownProduct() {
	_, err := s.add(demoOrder, 999, 1)
	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal(domain.SubjectProduct, nf.Subject)
	s.Empty(s.mem.Outbox())
}

func (s *ServiceSuite) TestTotalAcrossProducts() {
	_, err := s.add(demoOrder, smartphone, 2)
	s.Require().NoError(err)
	res, err := s.add(demoOrder, laptop, 1)
	s.Require().NoError(err)

	s.Equal("180000.00", res.OrderTotal.StringFixed(2))
	s.True(s.orderView(demoOrder).TotalAmount.Equal(decimal.RequireFromString("180000")))
}

func (s *ServiceSuite) TestMergeKeepsCapturedPrice() {
	_, err := s.add(demoOrder, smartphone, 1)
	s.Require().NoError(err)
	s.Require().NoError(s.mem.SetPrice(smartphone, decimal.RequireFromString("1.00")))

	res, err := s.add(demoOrder, smartphone, 1)
	s.Require().NoError(err)
	s.Equal("100000.00", res.OrderTotal.StringFixed(2))

	o := s.orderView(demoOrder)
	s.True(o.Items[0].Price.Equal(decimal.RequireFromString("50000.00")))
}

func (s *ServiceSuite) TestNewLineUsesCurrentPrice() {
	s.Require().NoError(s.mem.SetPrice(laptop, decimal.RequireFromString("79999.99")))
	res, err := s.add(demoOrder, laptop, 2)
	s.Require().NoError(err)
	s.Equal("159999.98", res.OrderTotal.StringFixed(2))
}

func (s *ServiceSuite) TestOutboxEvents() {
	_, err := s.add(demoOrder, smartphone, 2)
	s.Require().NoError(err)
	_, err = s.add(demoOrder, smartphone, 1)
	s.Require().NoError(err)

	recs := s.mem.Outbox()
	s.Require().Len(recs, 2)
	s.Equal("order-events", recs[0].Topic)
	s.Equal("1", recs[0].Key)

	first, err := contracts.Decode(recs[0].Payload)
	s.Require().NoError(err)
	s.Equal(contracts.EventOrderItemAdded, first.Type)
	second, err := contracts.Decode(recs[1].Payload)
	s.Require().NoError(err)
	s.Equal(contracts.EventOrderItemIncreased, second.Type)
	s.NotEqual(first.EventID, second.EventID)
	s.EqualValues(3, second.Payload[contracts.KeyTotalQuantity])
	s.Equal("150000.00", second.Payload[contracts.KeyOrderTotal])
}

func (s *ServiceSuite) TestIdempotentReplay() {
	in := order.AddItemInput{OrderID: demoOrder, ProductID: smartphone, Quantity: 2, IdempotencyKey: "k-1"}
	first, err := s.svc.AddItem(s.ctx, in)
	s.Require().NoError(err)
	s.False(first.Replayed)

	again, err := s.svc.AddItem(s.ctx, in)
	s.Require().NoError(err)
	s.True(again.Replayed)
	s.Equal(first.OrderItemID, again.OrderItemID)
	s.Equal(first.TotalQuantity, again.TotalQuantity)
	s.True(first.OrderTotal.Equal(again.OrderTotal))

	s.Equal(8, s.stock(smartphone))
	s.Len(s.mem.Outbox(), 1)
}

func (s *ServiceSuite) TestFailedCallDoesNotConsumeKey() {
	in := order.AddItemInput{OrderID: demoOrder, ProductID: laptop, Quantity: 6, IdempotencyKey: "k-2"}
	_, err := s.svc.AddItem(s.ctx, in)
	s.Require().Error(err)

	_, err = s.mem.IdempotentResult(s.ctx, "k-2")
	s.True(errors.Is(err, store.ErrNotFound))
}

func (s *ServiceSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.svc.AddItem(ctx, order.AddItemInput{OrderID: demoOrder, ProductID: smartphone, Quantity: 1})
	s.Require().ErrorIs(err, context.Canceled)
	s.Equal(10, s.stock(smartphone))
}

func (s *ServiceSuite) TestConcurrentAddsAcrossOrdersNeverOversell() {
	const workers = 25
	for i := 0; i < workers; i++ {
		s.mem.PutOrder(domain.Order{ID: domain.OrderID(2 + i), ClientID: 1, TotalAmount: decimal.Zero})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(orderID domain.OrderID) {
			defer wg.Done()
			_, err := s.add(orderID, smartphone, 1)
			mu.Lock()
			defer mu.Unlock()
			var stockErr *domain.InsufficientStockError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &stockErr):
				refused++
			}
		}(domain.OrderID(2 + i))
	}
	wg.Wait()

	s.Equal(10, ok)
	s.Equal(workers-10, refused)
	s.Equal(0, s.stock(smartphone))

	reserved := 0
	for i := 0; i < workers; i++ {
		for _, it := range s.orderView(domain.OrderID(2 + i)).Items {
			reserved += it.Quantity
		}
	}
	s.Equal(10, reserved)
}

// A merge is checked against the merged quantity while stock only drops by
// the added amount, so one line can take at most half of the initial stock.
func (s *ServiceSuite) TestRepeatedAddsToOneLinePlateau() {
	ok := 0
	for i := 0; i < 10; i++ {
		if _, err := s.add(demoOrder, smartphone, 1); err == nil {
			ok++
		} else {
			var stockErr *domain.InsufficientStockError
			s.Require().ErrorAs(err, &stockErr)
			s.Equal(6, stockErr.Requested)
			s.Equal(5, stockErr.Available)
		}
	}

	s.Equal(5, ok)
	s.Equal(5, s.stock(smartphone))
	o := s.orderView(demoOrder)
	s.Require().Len(o.Items, 1)
	s.Equal(5, o.Items[0].Quantity)
	s.True(o.TotalAmount.Equal(decimal.RequireFromString("250000")))
}

func (s *ServiceSuite) TestReusedKeyOnOtherRequestIsRejected() {
	s.mem.PutOrder(domain.Order{ID: 2, ClientID: 1, TotalAmount: decimal.Zero})
	_, err := s.svc.AddItem(s.ctx, order.AddItemInput{OrderID: demoOrder, ProductID: smartphone, Quantity: 2, IdempotencyKey: "k"})
	s.Require().NoError(err)

	others := []order.AddItemInput{
		{OrderID: 2, ProductID: smartphone, Quantity: 2, IdempotencyKey: "k"},
		{OrderID: demoOrder, ProductID: laptop, Quantity: 2, IdempotencyKey: "k"},
		{OrderID: demoOrder, ProductID: smartphone, Quantity: 3, IdempotencyKey: "k"},
	}
	for _, in := range others {
		res, err := s.svc.AddItem(s.ctx, in)
		var conflict *domain.IdempotencyConflictError
		s.Require().ErrorAs(err, &conflict)
		s.False(res.Replayed)
		s.Equal(demoOrder, conflict.OrderID)
		s.Equal(smartphone, conflict.ProductID)
		s.Equal(2, conflict.Quantity)
	}

	s.Empty(s.orderView(2).Items)
	s.Equal(5, s.stock(laptop))
	s.Equal(8, s.stock(smartphone))
	s.Len(s.mem.Outbox(), 1)
}

func (s *ServiceSuite) TestProductLookup() {
	p, err := s.svc.Product(s.ctx, laptop)
	s.Require().NoError(err)
	s.Equal("Laptop", p.Name)
	s.Require().NotNil(p.CategoryName)
	s.Equal("Electronics", *p.CategoryName)

	_, err = s.svc.Product(s.ctx, 42)
	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal(domain.SubjectProduct, nf.Subject)
}

func (s *ServiceSuite) TestOrderLookupNotFound() {
	_, err := s.svc.Order(s.ctx, 7)
	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal(domain.SubjectOrder, nf.Subject)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
