package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a customer purchase order. Items may be added or removed only
// while the order is PENDING.
type Order struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	SalesOrderNumber string      `gorm:"size:64;index" json:"sales_order_number,omitempty"`
	Status           OrderStatus `gorm:"size:32;not null;default:'PENDING';index" json:"status"`

	// External QuickBooks document ids. An order may originate from an
	// estimate and later be linked to the invoice created from it.
	QuickbooksOrderID    *string `gorm:"size:64;uniqueIndex" json:"quickbooks_order_id,omitempty"`
	QuickbooksEstimateID *string `gorm:"size:64;uniqueIndex" json:"quickbooks_estimate_id,omitempty"`

	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_amount"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// Number returns the human-facing order number.
func (o *Order) Number() string {
	if o.SalesOrderNumber != "" {
		return o.SalesOrderNumber
	}
	return fmt.Sprintf("#%d", o.ID)
}

// CanEditItems returns true while items may still be added or removed.
func (o *Order) CanEditItems() bool {
	return o.Status == OrderStatusPending
}

// IsWorkable returns true when production work may start or complete.
func (o *Order) IsWorkable() bool {
	return o.Status == OrderStatusApproved || o.Status == OrderStatusOrderProcessing
}

// IsTerminal returns true for orders that no longer change.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusArchived:
		return true
	}
	return false
}

// ComputeTotal sums quantity * price over the loaded items.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}
