package handlers

import (
	"net/http"

	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/isolation"
)

// IsolationHandler exposes the read-only isolation reports.
type IsolationHandler struct {
	guard *isolation.Guard
}

func NewIsolationHandler(g *isolation.Guard) *IsolationHandler {
	return &IsolationHandler{guard: g}
}

// Order handles GET /api/isolation/orders/{id}.
func (h *IsolationHandler) Order(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	report, err := h.guard.ValidateOrderIsolation(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// Contamination handles GET /api/isolation/contamination.
func (h *IsolationHandler) Contamination(w http.ResponseWriter, r *http.Request) {
	found, err := h.guard.DetectCrossOrderContamination(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if found == nil {
		found = []isolation.Contamination{}
	}
	httpx.JSON(w, http.StatusOK, found)
}
