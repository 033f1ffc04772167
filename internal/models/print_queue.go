package models

import "time"

// PrintQueueEntry is a pending (or printed) label job for one order item.
type PrintQueueEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderItemID uint       `gorm:"not null;uniqueIndex" json:"order_item_id"`
	OrderItem   *OrderItem `gorm:"foreignKey:OrderItemID" json:"order_item,omitempty"`

	IsPrinted bool       `gorm:"not null;default:false;index" json:"is_printed"`
	AddedAt   time.Time  `gorm:"not null;index" json:"added_at"`
	AddedBy   *uint      `json:"added_by,omitempty"`
	PrintedAt *time.Time `json:"printed_at,omitempty"`
	PrintedBy *uint      `json:"printed_by,omitempty"`
}

// TableName keeps the historical table name.
func (PrintQueueEntry) TableName() string { return "print_queue" }
