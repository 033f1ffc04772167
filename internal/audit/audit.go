// Package audit writes AuditLog rows inside the caller's transaction.
package audit

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Kodeloom/spacovers-admin/internal/models"
	"gorm.io/gorm"
)

// Record appends an audit entry using tx. oldVal and newVal are JSON-encoded; nil
// values are stored as empty strings.
func Record(tx *gorm.DB, actorID *uint, action, entity string, entityID uint, oldVal, newVal any) error {
	entry := models.AuditLog{
		UserID:     actorID,
		Action:     action,
		EntityName: entity,
		EntityID:   strconv.FormatUint(uint64(entityID), 10),
		OldValue:   encode(oldVal),
		NewValue:   encode(newVal),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("audit %s %s/%d: %w", action, entity, entityID, err)
	}
	return nil
}

// Actor converts an id into the nullable actor column; 0 means system.
func Actor(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

func encode(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
