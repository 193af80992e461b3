package domain

import "fmt"

type Subject string

const (
	SubjectOrder   Subject = "order"
	SubjectProduct Subject = "product"
)

type NotFoundError struct {
	Subject Subject
	ID      int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Subject, e.ID)
}

func NotFound(subject Subject, id int64) error {
	return &NotFoundError{Subject: subject, ID: id}
}

// InsufficientStockError reports a stock conflict. Requested is the total the
// line would need: the plain quantity for a new line, the merged quantity when
// the product is already in the order. InOrder and Added are only set for a merge.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	Available int
	InOrder   int
	Added     int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Merge reports whether the conflict was raised while increasing an existing line.
func (e *InsufficientStockError) Merge() bool {
	return e.InOrder > 0
}

// IdempotencyConflictError reports an Idempotency-Key already bound to a
// different add-item request. OrderID, ProductID and Quantity describe the
// request that first used the key.
type IdempotencyConflictError struct {
	Key       string
	OrderID   OrderID
	ProductID ProductID
	Quantity  int
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q already used for order %d, product %d, quantity %d",
		e.Key, e.OrderID, e.ProductID, e.Quantity)
}
