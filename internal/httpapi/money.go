package httpapi

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
)

// money renders an amount as a bare JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(domain.MoneyScale))
}
