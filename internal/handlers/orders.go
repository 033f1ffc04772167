package handlers

import (
	"net/http"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/isolation"
	"github.com/Kodeloom/spacovers-admin/internal/orders"
	"github.com/Kodeloom/spacovers-admin/internal/validation"
)

// OrderHandler serves order approval and line item editing.
type OrderHandler struct {
	orders *orders.Service
}

func NewOrderHandler(s *orders.Service) *OrderHandler {
	return &OrderHandler{orders: s}
}

// Get handles GET /api/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// Approve handles POST /api/orders/{id}/approve.
func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	res, err := h.orders.Approve(r.Context(), id, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Cancel handles POST /api/orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	order, err := h.orders.Cancel(r.Context(), id, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// AddItem handles POST /api/orders/{id}/items.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req orders.NewOrderItem
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	v := make(validation.Violations)
	validation.RequiredID("itemId", req.ItemID, v)
	validation.PositiveInt("quantity", req.Quantity, v)
	if !v.Empty() {
		httpx.Error(w, httpx.Violations(v))
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	item, err := h.orders.AddItem(r.Context(), orderID, req, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

// RemoveItem handles DELETE /api/orders/{id}/items/{itemId}.
func (h *OrderHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	if err := h.orders.RemoveItem(r.Context(), orderID, itemID, actor); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateItem handles PATCH /api/orders/{id}/items/{itemId}. A payload
// naming a different orderId is rejected as an isolation violation.
func (h *OrderHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var upd isolation.OrderItemUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		httpx.Error(w, err)
		return
	}
	if upd.Quantity != nil {
		v := make(validation.Violations)
		validation.PositiveInt("quantity", *upd.Quantity, v)
		if !v.Empty() {
			httpx.Error(w, httpx.Violations(v))
			return
		}
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	item, err := h.orders.UpdateItem(r.Context(), orderID, itemID, upd, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}
