package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmartinezc/orders-api/internal/customers"
	"github.com/dmartinezc/orders-api/internal/orders"
	"github.com/go-chi/chi/v5"
)

// HeaderIdempotencyKey carries the client's exactly-once token for confirm.
const HeaderIdempotencyKey = "X-Idempotency-Key"

type OrdersHandler struct {
	Service *orders.Service
}

type CreateOrderReq struct {
	CustomerID int64              `json:"customer_id"`
	Items      []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	ID         int64         `json:"id"`
	Status     orders.Status `json:"status"`
	TotalCents int           `json:"total_cents"`
}

type CancelOrderResp struct {
	ID     int64         `json:"id"`
	Status orders.Status `json:"status"`
}

type OrderWithItems struct {
	orders.Order
	Items []orders.OrderItem `json:"items"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/confirm", h.confirmOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json", "VALIDATION"))
		return
	}

	o, _, err := h.Service.Create(r.Context(), req.CustomerID, req.Items, r.Header.Get("X-Request-Id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{ID: o.ID, Status: o.Status, TotalCents: o.TotalCents})
}

func (h *OrdersHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	body, err := h.Service.Confirm(r.Context(), id, key, r.Header.Get("X-Request-Id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	// stored responses are replayed byte for byte
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	o, err := h.Service.Cancel(r.Context(), id, r.Header.Get("X-Request-Id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelOrderResp{ID: o.ID, Status: o.Status})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	o, items, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if items == nil {
		items = []orders.OrderItem{}
	}
	writeJSON(w, http.StatusOK, OrderWithItems{Order: o, Items: items})
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	status, err := h.Service.GetStatus(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": status})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func orderFilter(r *http.Request) (orders.OrderFilter, error) {
	q := r.URL.Query()
	f := orders.OrderFilter{Limit: 10}
	if s := q.Get("status"); s != "" {
		st := orders.Status(s)
		if !orders.ValidStatus(st) {
			return f, orders.Validationf("invalid status %q", s)
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, orders.Validationf("invalid %s: %v", p.name, err)
			}
			*p.dst = t
		}
	}
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, orders.Validationf("invalid cursor")
		}
		f.Cursor = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, orders.Validationf("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusNotFound, errBody(orders.ErrNotFound.Error(), "NOT_FOUND"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errBody(msg, kind string) map[string]string {
	return map[string]string{"error": msg, "kind": kind}
}

// writeErr maps the error taxonomy onto status codes and machine kinds.
// 4xx errors are final; 5xx-class responses are safe to retry.
func writeErr(w http.ResponseWriter, err error) {
	var ve *orders.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errBody(ve.Error(), "VALIDATION"))
	case errors.Is(err, orders.ErrMissingIdempotencyKey):
		writeJSON(w, http.StatusBadRequest, errBody(err.Error(), "MISSING_IDEMPOTENCY_KEY"))
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody(orders.ErrNotFound.Error(), "NOT_FOUND"))
	case errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusBadRequest, errBody(orders.ErrProductNotFound.Error(), "PRODUCT_NOT_FOUND"))
	case errors.Is(err, orders.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, errBody(orders.ErrInsufficientStock.Error(), "INSUFFICIENT_STOCK"))
	case errors.Is(err, orders.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, errBody(orders.ErrInvalidStatus.Error(), "INVALID_STATUS"))
	case errors.Is(err, orders.ErrWindowExpired):
		writeJSON(w, http.StatusBadRequest, errBody(orders.ErrWindowExpired.Error(), "CANCELATION_WINDOW_EXPIRED"))
	case errors.Is(err, customers.ErrNotFound), errors.Is(err, customers.ErrForbidden):
		writeJSON(w, http.StatusBadRequest, errBody(err.Error(), "CUSTOMER_REJECTED"))
	case errors.Is(err, customers.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errBody(err.Error(), "UPSTREAM_UNAVAILABLE"))
	default:
		writeJSON(w, http.StatusInternalServerError, errBody("internal error", "STORAGE"))
	}
}
