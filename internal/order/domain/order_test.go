package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSumLines(t *testing.T) {
	items := []OrderItem{
		{Quantity: 2, Price: decimal.RequireFromString("50000.00")},
		{Quantity: 1, Price: decimal.RequireFromString("80000.00")},
	}
	assert.Equal(t, "180000.00", SumLines(items).StringFixed(MoneyScale))
	assert.True(t, SumLines(nil).IsZero())
}

func TestSumLinesHasNoFloatDrift(t *testing.T) {
	var items []OrderItem
	for i := 0; i < 10; i++ {
		items = append(items, OrderItem{Quantity: 1, Price: decimal.RequireFromString("0.10")})
	}
	assert.True(t, SumLines(items).Equal(decimal.NewFromInt(1)))
}

func TestErrors(t *testing.T) {
	assert.EqualError(t, NotFound(SubjectOrder, 3), "order 3 not found")

	err := &InsufficientStockError{ProductID: 1, Requested: 15, Available: 5, InOrder: 5, Added: 10}
	assert.EqualError(t, err, "insufficient stock for product 1: requested 15, available 5")
	assert.True(t, err.Merge())
}
