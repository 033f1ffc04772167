package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of an order bound to a catalog item. The external
// QuickBooks line reference is unique within the owning order only; the same
// reference may appear on items of different orders.
type OrderItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// OrderID never changes after creation.
	OrderID uint   `gorm:"not null;index;uniqueIndex:idx_order_items_order_line,priority:1" json:"order_id"`
	Order   *Order `gorm:"foreignKey:OrderID" json:"-"`

	ItemID uint  `gorm:"not null;index" json:"item_id"`
	Item   *Item `gorm:"foreignKey:ItemID" json:"item,omitempty"`

	Quantity     int             `gorm:"not null;default:1" json:"quantity"`
	PricePerItem decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"price_per_item"`

	ItemStatus ItemStatus `gorm:"size:32;not null;default:'NOT_STARTED_PRODUCTION'" json:"item_status"`

	QuickbooksOrderLineID *string `gorm:"size:64;uniqueIndex:idx_order_items_order_line,priority:2" json:"quickbooks_order_line_id,omitempty"`

	// IsProduct marks items that go through the production workflow.
	IsProduct bool `gorm:"not null;default:false" json:"is_product"`
	// Verified is set once the product attributes have been checked; only
	// verified production items get labels on approval.
	Verified bool `gorm:"not null;default:false" json:"verified"`
}

// LineTotal returns quantity * price.
func (oi *OrderItem) LineTotal() decimal.Decimal {
	return oi.PricePerItem.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// LineRef returns the external line reference or "".
func (oi *OrderItem) LineRef() string {
	if oi.QuickbooksOrderLineID == nil {
		return ""
	}
	return *oi.QuickbooksOrderLineID
}
