package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	OrderID    int64
	ProductID  int64
	ClientID   int64
	CategoryID int64
	ItemID     int64
)

// MoneyScale is the number of decimal places kept for prices and totals.
const MoneyScale = 2

type OrderStatus string

const OrderStatusPending OrderStatus = "pending"

type Category struct {
	ID       CategoryID
	Name     string
	ParentID *CategoryID
	Level    int
	Path     string
}

type Product struct {
	ID         ProductID
	Name       string
	Quantity   int
	Price      decimal.Decimal
	CategoryID *CategoryID

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Client struct {
	ID      ClientID
	Name    string
	Address string
}

type Order struct {
	ID          OrderID
	ClientID    ClientID
	OrderDate   time.Time
	Status      OrderStatus
	TotalAmount decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is one product line of an order. Price is the unit price captured
// when the line was first created and is never refreshed on later merges.
type OrderItem struct {
	ID        ItemID
	OrderID   OrderID
	ProductID ProductID
	Quantity  int
	Price     decimal.Decimal

	CreatedAt time.Time
}

// LineTotal is quantity × captured price.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// SumLines returns the order total for the given lines rounded to MoneyScale.
func SumLines(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(MoneyScale)
}

type OrderLine struct {
	OrderItem
	ProductName string
}

// OrderView is an order together with its lines, as returned by read lookups.
type OrderView struct {
	Order
	Items []OrderLine
}

type ProductView struct {
	Product
	CategoryName *string
}
