package handlers

import (
	"net/http"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/production"
	"github.com/Kodeloom/spacovers-admin/internal/validation"
)

// ProductionHandler serves barcode scans from the stations and the admin
// status override.
type ProductionHandler struct {
	machine *production.Machine
}

func NewProductionHandler(m *production.Machine) *ProductionHandler {
	return &ProductionHandler{machine: m}
}

type startRequest struct {
	OrderItemID uint `json:"orderItemId"`
	StationID   uint `json:"stationId"`
	UserID      uint `json:"userId"`
}

// Start handles POST /api/production/start. userId defaults to the signed-in
// user.
func (h *ProductionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.UserID == 0 {
		req.UserID, _ = auth.UserIDFromContext(r.Context())
	}
	v := make(validation.Violations)
	validation.RequiredID("orderItemId", req.OrderItemID, v)
	validation.RequiredID("stationId", req.StationID, v)
	validation.RequiredID("userId", req.UserID, v)
	if !v.Empty() {
		httpx.Error(w, httpx.Violations(v))
		return
	}

	res, err := h.machine.StartWork(r.Context(), req.OrderItemID, req.StationID, req.UserID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type completeRequest struct {
	OrderItemID uint `json:"orderItemId"`
}

type completeResponse struct {
	OrderItem         models.OrderItem         `json:"orderItem"`
	DurationInSeconds int                      `json:"durationInSeconds"`
	Log               models.ItemProcessingLog `json:"log"`
}

// Complete handles POST /api/production/complete.
func (h *ProductionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.OrderItemID == 0 {
		httpx.Error(w, httpx.Violations(map[string]string{"orderItemId": "required"}))
		return
	}

	res, err := h.machine.CompleteWork(r.Context(), req.OrderItemID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := completeResponse{OrderItem: res.OrderItem, Log: res.Log}
	if res.Log.DurationInSeconds != nil {
		out.DurationInSeconds = *res.Log.DurationInSeconds
	}
	httpx.JSON(w, http.StatusOK, out)
}

type statusRequest struct {
	OrderID uint              `json:"orderId"`
	Status  models.ItemStatus `json:"status"`
}

// SetStatus handles PATCH /api/order-items/{id}/status.
func (h *ProductionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	v := make(validation.Violations)
	validation.RequiredID("orderId", req.OrderID, v)
	validation.OneOf("status", req.Status, models.ProductionSequence, v)
	if !v.Empty() {
		httpx.Error(w, httpx.Violations(v))
		return
	}

	actor, _ := auth.UserIDFromContext(r.Context())
	item, err := h.machine.SetStatus(r.Context(), id, req.OrderID, req.Status, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orderItem": item})
}

// Logs handles GET /api/order-items/{id}/logs.
func (h *ProductionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	logs, err := h.machine.Logs(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logs": logs})
}
