package contracts

import (
	"encoding/json"
	"time"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   int64          `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderItemAdded     = "order.item_added"
	EventOrderItemIncreased = "order.item_increased"
)

// Payload keys of the order item events.
const (
	KeyProductID     = "product_id"
	KeyOrderItemID   = "order_item_id"
	KeyQuantity      = "quantity"
	KeyTotalQuantity = "total_quantity"
	KeyOrderTotal    = "order_total"
	KeyStockLeft     = "stock_left"
)

func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}
