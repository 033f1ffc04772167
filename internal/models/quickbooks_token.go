package models

import "time"

// QuickbooksToken is the company-wide OAuth credential. There is one row per
// QuickBooks company (realm).
type QuickbooksToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID    string `gorm:"size:64;uniqueIndex;not null" json:"company_id"`
	AccessToken  string `gorm:"type:text;not null" json:"-"`
	RefreshToken string `gorm:"type:text;not null" json:"-"`
	TokenType    string `gorm:"size:32" json:"token_type"`

	AccessTokenExpiresAt  time.Time `gorm:"not null" json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `gorm:"not null" json:"refresh_token_expires_at"`
	ConnectedAt           time.Time `gorm:"not null" json:"connected_at"`
}
