package models

import "time"

// AuditLog records who changed what. Old and new values are JSON text.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UserID     *uint     `gorm:"index" json:"user_id,omitempty"`
	Action     string    `gorm:"size:64;not null;index" json:"action"`
	EntityName string    `gorm:"size:64;not null" json:"entity_name"`
	EntityID   string    `gorm:"size:64;not null;index" json:"entity_id"`
	OldValue   string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue   string    `gorm:"type:text" json:"new_value,omitempty"`
}

// All returns every model in migration order.
func All() []any {
	return []any{
		&Permission{}, &Profile{}, &User{},
		&Customer{}, &Item{}, &Station{},
		&Order{}, &OrderItem{},
		&ItemProcessingLog{}, &PrintQueueEntry{},
		&QuickbooksToken{}, &AuditLog{},
	}
}
