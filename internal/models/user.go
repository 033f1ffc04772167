package models

import "time"

// User is a back-office user or warehouse worker. Authentication happens in
// the external provider; this row holds identity and authorization.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email  string       `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name   string       `gorm:"size:255" json:"name,omitempty"`
	Status RecordStatus `gorm:"size:16;not null;default:'ACTIVE'" json:"status"`

	// ProfileID links the user to an authorization profile. Nil means no
	// permissions.
	ProfileID *uint    `gorm:"index" json:"profile_id,omitempty"`
	Profile   *Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
}
