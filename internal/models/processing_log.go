package models

import "time"

// ItemProcessingLog records one work interval of an order item at a station.
// A log with a nil EndTime is open; at most one open log exists per order item.
type ItemProcessingLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderItemID uint       `gorm:"not null;index" json:"order_item_id"`
	OrderItem   *OrderItem `gorm:"foreignKey:OrderItemID" json:"-"`
	StationID   uint       `gorm:"not null;index" json:"station_id"`
	Station     *Station   `gorm:"foreignKey:StationID" json:"station,omitempty"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	User        *User      `gorm:"foreignKey:UserID" json:"-"`

	StartTime         time.Time  `gorm:"not null" json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	DurationInSeconds *int       `json:"duration_in_seconds,omitempty"`
}

// IsOpen reports whether work is still in progress.
func (l *ItemProcessingLog) IsOpen() bool { return l.EndTime == nil }
