package policy

import (
	"context"

	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/policy/gate"
)

// OrderPolicy denies changes to orders that have reached a terminal state.
// Viewing is always allowed.
type OrderPolicy struct{}

func NewOrderPolicy() *OrderPolicy { return &OrderPolicy{} }

func (p *OrderPolicy) Can(_ context.Context, _ uint, action gate.Action, resource any) bool {
	if action == gate.ActionView {
		return true
	}
	var order *models.Order
	switch o := resource.(type) {
	case *models.Order:
		order = o
	case models.Order:
		order = &o
	default:
		return false
	}
	return !order.IsTerminal()
}
