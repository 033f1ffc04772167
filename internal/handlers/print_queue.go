package handlers

import (
	"net/http"
	"strconv"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/printqueue"
	"github.com/Kodeloom/spacovers-admin/internal/validation"
)

// PrintQueueHandler serves the label printing station.
type PrintQueueHandler struct {
	queue *printqueue.Coordinator
}

func NewPrintQueueHandler(q *printqueue.Coordinator) *PrintQueueHandler {
	return &PrintQueueHandler{queue: q}
}

// List handles GET /api/print-queue?limit=N.
func (h *PrintQueueHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.queue.Pending(r.Context(), limit)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

type addItemRequest struct {
	OrderItemID uint `json:"orderItemId"`
}

// AddItem handles POST /api/print-queue/add-item.
func (h *PrintQueueHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.OrderItemID == 0 {
		httpx.Error(w, httpx.Violations(map[string]string{"orderItemId": "required"}))
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	entry, outcome, err := h.queue.Enqueue(r.Context(), req.OrderItemID, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	status := http.StatusOK
	if outcome == printqueue.OutcomeCreated {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{"entry": entry, "outcome": outcome})
}

type setPrintedRequest struct {
	IsPrinted *bool `json:"isPrinted"`
}

// Update handles PATCH /api/print-queue/{id}.
func (h *PrintQueueHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req setPrintedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.IsPrinted == nil {
		httpx.Error(w, httpx.Violations(map[string]string{"isPrinted": "required"}))
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	entry, err := h.queue.SetPrinted(r.Context(), id, *req.IsPrinted, actor)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": entry})
}

type markPrintedRequest struct {
	QueueItemIDs []uint `json:"queueItemIds"`
}

// MarkPrinted handles POST /api/print-queue/mark-printed. Failures are
// reported per id; the response is 200 even when some ids failed.
func (h *PrintQueueHandler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	var req markPrintedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	v := make(validation.Violations)
	validation.NonEmpty("queueItemIds", req.QueueItemIDs, v)
	if !v.Empty() {
		httpx.Error(w, httpx.Violations(v))
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, h.queue.MarkPrinted(r.Context(), req.QueueItemIDs, actor))
}

// NextBatch handles GET /api/print-queue/next-batch.
func (h *PrintQueueHandler) NextBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.queue.NextBatch(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

// Remove handles DELETE /api/print-queue/{id}.
func (h *PrintQueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.queue.Remove(r.Context(), id); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
