package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/internal/order"
	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
	"github.com/nazeru/tx-lab-orders-go/pkg/idempotency"
	"github.com/nazeru/tx-lab-orders-go/pkg/metrics"
)

type Handler struct {
	svc     *order.Service
	metrics *metrics.ServerMetrics
	log     *zap.Logger
	timeout time.Duration
	version string
}

func NewHandler(svc *order.Service, m *metrics.ServerMetrics, log *zap.Logger, timeout time.Duration, version string) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, metrics: m, log: log, timeout: timeout, version: version}
}

type AddItemRequest struct {
	OrderID   *int64 `json:"order_id"`
	ProductID *int64 `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type AddItemResponse struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message"`
	OrderItemID   int64       `json:"order_item_id"`
	TotalQuantity int         `json:"total_quantity"`
	OrderTotal    json.Number `json:"order_total"`
	Replayed      bool        `json:"replayed,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "body must be a JSON object")
		return
	}
	if msg := validate(req); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, "Validation error", msg)
		return
	}
	key := idempotency.Key(r)
	if !idempotency.Valid(key) {
		writeError(w, http.StatusUnprocessableEntity, "Validation error",
			fmt.Sprintf("%s must be at most %d characters", idempotency.Header, idempotency.MaxKeyLen))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.AddItem(ctx, order.AddItemInput{
		OrderID:        domain.OrderID(*req.OrderID),
		ProductID:      domain.ProductID(*req.ProductID),
		Quantity:       *req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		h.outcome(h.writeServiceError(w, err))
		return
	}

	if res.Replayed {
		w.Header().Set(idempotency.ReplayHeader, "true")
		h.outcome("replayed")
	} else {
		h.outcome(string(res.Outcome))
	}
	writeJSON(w, http.StatusOK, AddItemResponse{
		Success:       true,
		Message:       res.Message,
		OrderItemID:   int64(res.OrderItemID),
		TotalQuantity: res.TotalQuantity,
		OrderTotal:    money(res.OrderTotal),
		Replayed:      res.Replayed,
	})
}

func validate(req AddItemRequest) string {
	switch {
	case req.OrderID == nil || *req.OrderID <= 0:
		return "order_id must be a positive integer"
	case req.ProductID == nil || *req.ProductID <= 0:
		return "product_id must be a positive integer"
	case req.Quantity == nil || *req.Quantity <= 0:
		return "quantity must be a positive integer"
	}
	return ""
}

// writeServiceError maps core failures to HTTP and returns the outcome label.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) string {
	var nf *domain.NotFoundError
	var stock *domain.InsufficientStockError
	var reused *domain.IdempotencyConflictError
	switch {
	case errors.As(err, &nf) && nf.Subject == domain.SubjectOrder:
		writeError(w, http.StatusNotFound, "Order not found", fmt.Sprintf("Order with ID %d does not exist", nf.ID))
		return "order_not_found"
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "Product not found", fmt.Sprintf("Product with ID %d does not exist", nf.ID))
		return "product_not_found"
	case errors.As(err, &stock):
		details := fmt.Sprintf("Requested: %d, available: %d", stock.Requested, stock.Available)
		if stock.Merge() {
			details = fmt.Sprintf("Order already has %d. Requested to add: %d. Total required: %d. Available: %d.",
				stock.InOrder, stock.Added, stock.Requested, stock.Available)
		}
		writeError(w, http.StatusConflict, "Insufficient stock", details)
		return "insufficient_stock"
	case errors.As(err, &reused):
		writeError(w, http.StatusUnprocessableEntity, "Idempotency key reused",
			fmt.Sprintf("%s was already used with a different order, product or quantity", idempotency.Header))
		return "idempotency_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Timeout", "request took too long")
		return "timeout"
	}
	h.log.Error("add item failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error", "")
	return "error"
}

func (h *Handler) outcome(label string) {
	if h.metrics != nil {
		h.metrics.Outcomes.WithLabelValues(label).Inc()
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "Validation error", "order_id must be a positive integer")
		return
	}
	view, err := h.svc.Order(r.Context(), domain.OrderID(id))
	if err != nil {
		h.writeLookupError(w, err, "Order not found")
		return
	}

	items := make([]map[string]any, 0, len(view.Items))
	for _, it := range view.Items {
		items = append(items, map[string]any{
			"id":           int64(it.ID),
			"product_id":   int64(it.ProductID),
			"product_name": it.ProductName,
			"quantity":     it.Quantity,
			"price":        money(it.Price),
			"total":        money(it.LineTotal()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": map[string]any{
			"id":           int64(view.ID),
			"client_id":    int64(view.ClientID),
			"status":       string(view.Status),
			"total_amount": money(view.TotalAmount),
			"order_date":   view.OrderDate,
		},
		"items": items,
	})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "Validation error", "product_id must be a positive integer")
		return
	}
	p, err := h.svc.Product(r.Context(), domain.ProductID(id))
	if err != nil {
		h.writeLookupError(w, err, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       int64(p.ID),
		"name":     p.Name,
		"price":    money(p.Price),
		"quantity": p.Quantity,
		"category": p.CategoryName,
	})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error, title string) {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, title, "")
		return
	}
	h.log.Error("lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error", "")
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order Management API",
		"version": h.version,
		"endpoints": map[string]string{
			"add_item":    "POST /orders/add-item",
			"get_order":   "GET /orders/{order_id}",
			"get_product": "GET /products/{product_id}",
			"health":      "GET /health",
			"metrics":     "GET /metrics",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, title, details string) {
	writeJSON(w, code, ErrorResponse{Success: false, Error: title, Details: details})
}
