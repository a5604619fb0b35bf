package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dmartinezc/orders-api/internal/orders"
	"github.com/go-chi/chi/v5"
)

// ProductsHandler is plain CRUD: single-row reads and writes, no invariants
// beyond non-negative inputs. Stock mutation during ordering goes through
// the ledger transaction, never through PATCH.
type ProductsHandler struct {
	Store orders.ProductStore
}

type CreateProductReq struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int    `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type UpdateProductReq struct {
	PriceCents *int `json:"price_cents"`
	Stock      *int `json:"stock"`
}

func (h *ProductsHandler) Register(r *chi.Mux) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Patch("/products/{id}", h.updateProduct)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json", "VALIDATION"))
		return
	}
	if req.SKU == "" || req.Name == "" || req.PriceCents < 0 || req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, errBody("missing or invalid fields", "VALIDATION"))
		return
	}
	p, err := h.Store.CreateProduct(r.Context(), orders.Product{
		SKU: req.SKU, Name: req.Name, PriceCents: req.PriceCents, Stock: req.Stock,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json", "VALIDATION"))
		return
	}
	if req.PriceCents == nil && req.Stock == nil {
		writeJSON(w, http.StatusBadRequest, errBody("nothing to update", "VALIDATION"))
		return
	}
	if (req.PriceCents != nil && *req.PriceCents < 0) || (req.Stock != nil && *req.Stock < 0) {
		writeJSON(w, http.StatusBadRequest, errBody("negative values not allowed", "VALIDATION"))
		return
	}
	p, err := h.Store.UpdateProduct(r.Context(), id, req.PriceCents, req.Stock)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ProductFilter{Search: q.Get("search"), Limit: 10}
	if v := q.Get("cursor"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Cursor = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			f.Limit = n
		}
	}
	out, err := h.Store.ListProducts(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, out)
}
