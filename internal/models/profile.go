package models

import "time"

// Profile groups permissions; a user has at most one profile
// (e.g. "admin", "office", "warehouse").
type Profile struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Name        string       `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string       `gorm:"size:500" json:"description,omitempty"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"`
	Permissions []Permission `gorm:"many2many:profile_permissions;" json:"permissions,omitempty"`
}

// Permission is one "resource:action" grant, e.g. "order_item:scan".
type Permission struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ResourceType string    `gorm:"size:50;not null;uniqueIndex:idx_perm_resource_action" json:"resource_type"`
	Action       string    `gorm:"size:50;not null;uniqueIndex:idx_perm_resource_action" json:"action"`
	Description  string    `gorm:"size:200" json:"description,omitempty"`
}

// Code returns the permission in "resource:action" format.
func (p Permission) Code() string {
	return p.ResourceType + ":" + p.Action
}
