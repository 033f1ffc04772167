package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a buyer, optionally mirrored from QuickBooks.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name  string `gorm:"size:255;not null" json:"name"`
	Email string `gorm:"size:255" json:"email,omitempty"`
	Phone string `gorm:"size:50" json:"phone,omitempty"`

	AddressLine1 string `gorm:"size:255" json:"address_line1,omitempty"`
	AddressLine2 string `gorm:"size:255" json:"address_line2,omitempty"`
	City         string `gorm:"size:100" json:"city,omitempty"`
	State        string `gorm:"size:100" json:"state,omitempty"`
	PostalCode   string `gorm:"size:20" json:"postal_code,omitempty"`
	Country      string `gorm:"size:100" json:"country,omitempty"`

	Status               RecordStatus `gorm:"size:16;not null;default:'ACTIVE'" json:"status"`
	QuickbooksCustomerID *string      `gorm:"size:64;uniqueIndex" json:"quickbooks_customer_id,omitempty"`
}

// FullAddress formats the address on up to three lines, skipping blanks.
func (c *Customer) FullAddress() string {
	var lines []string
	for _, l := range []string{c.AddressLine1, c.AddressLine2} {
		if l != "" {
			lines = append(lines, l)
		}
	}
	cityLine := strings.TrimSpace(strings.Join(nonEmpty(c.City, c.State, c.PostalCode), " "))
	if cityLine != "" {
		lines = append(lines, cityLine)
	}
	if c.Country != "" {
		lines = append(lines, c.Country)
	}
	return strings.Join(lines, "\n")
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Item is a catalog entry, optionally mirrored from QuickBooks.
type Item struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string          `gorm:"size:255;not null" json:"name"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	RetailPrice decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"retail_price"`
	Status      RecordStatus    `gorm:"size:16;not null;default:'ACTIVE'" json:"status"`

	// IsProduct items are manufactured in-house and tracked through the
	// production stations.
	IsProduct bool `gorm:"not null;default:false" json:"is_product"`

	QuickbooksItemID *string `gorm:"size:64;uniqueIndex" json:"quickbooks_item_id,omitempty"`
}

// Station is a physical production station where barcodes are scanned.
type Station struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string     `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Stage    ItemStatus `gorm:"size:32;not null" json:"stage"`
	Position int        `gorm:"not null;default:0" json:"position"`
}
