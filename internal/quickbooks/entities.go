// Package quickbooks connects the back office to QuickBooks Online: the
// OAuth credential, the accounting API client, the webhook and the engine
// that maps QuickBooks entities onto local records.
package quickbooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/shopspring/decimal"
)

// Entity names as used by the API and webhooks.
const (
	EntityCustomer = "Customer"
	EntityItem     = "Item"
	EntityInvoice  = "Invoice"
	EntityEstimate = "Estimate"
)

// Entity is one of *Customer, *Item, *Invoice or *Estimate.
type Entity interface {
	EntityName() string
	ExternalID() string
}

// Ref points at another entity, e.g. CustomerRef or ItemRef.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type EmailAddress struct {
	Address string `json:"Address"`
}

type PhoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// PhysicalAddress fields are all optional upstream.
type PhysicalAddress struct {
	Line1                  *string `json:"Line1,omitempty"`
	Line2                  *string `json:"Line2,omitempty"`
	City                   *string `json:"City,omitempty"`
	CountrySubDivisionCode *string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             *string `json:"PostalCode,omitempty"`
	Country                *string `json:"Country,omitempty"`
}

type Customer struct {
	ID               string           `json:"Id"`
	DisplayName      string           `json:"DisplayName"`
	CompanyName      *string          `json:"CompanyName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *PhoneNumber     `json:"PrimaryPhone,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
	ShipAddr         *PhysicalAddress `json:"ShipAddr,omitempty"`
	Active           *bool            `json:"Active,omitempty"`
}

func (c *Customer) EntityName() string { return EntityCustomer }
func (c *Customer) ExternalID() string { return c.ID }

// Item types that are not manufactured.
var nonProductItemTypes = map[string]bool{"Service": true, "Category": true, "Group": true}

type Item struct {
	ID          string           `json:"Id"`
	Name        string           `json:"Name"`
	Description *string          `json:"Description,omitempty"`
	UnitPrice   *decimal.Decimal `json:"UnitPrice,omitempty"`
	Type        string           `json:"Type,omitempty"`
	Active      *bool            `json:"Active,omitempty"`
}

func (i *Item) EntityName() string { return EntityItem }
func (i *Item) ExternalID() string { return i.ID }

// IsProduct reports whether the item type is manufactured in-house.
func (i *Item) IsProduct() bool { return !nonProductItemTypes[i.Type] }

// SalesItemLineDetail is the detail of a product or service line.
type SalesItemLineDetail struct {
	ItemRef   Ref              `json:"ItemRef"`
	Qty       *decimal.Decimal `json:"Qty,omitempty"`
	UnitPrice *decimal.Decimal `json:"UnitPrice,omitempty"`
}

// Line is one document line. Only SalesItemLineDetail lines carry items;
// subtotal and discount lines are ignored.
type Line struct {
	ID                  string               `json:"Id"`
	LineNum             int                  `json:"LineNum,omitempty"`
	Description         *string              `json:"Description,omitempty"`
	Amount              decimal.Decimal      `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

// IsSalesLine reports whether the line references a catalog item.
func (l Line) IsSalesLine() bool {
	return l.DetailType == "SalesItemLineDetail" && l.SalesItemLineDetail != nil
}

// Quantity returns the whole quantity, at least 1.
func (l Line) Quantity() int {
	if l.SalesItemLineDetail == nil || l.SalesItemLineDetail.Qty == nil {
		return 1
	}
	q := int(l.SalesItemLineDetail.Qty.Round(0).IntPart())
	if q < 1 {
		return 1
	}
	return q
}

// UnitPrice returns the line unit price, falling back to Amount / quantity.
func (l Line) UnitPrice() decimal.Decimal {
	if l.SalesItemLineDetail != nil && l.SalesItemLineDetail.UnitPrice != nil {
		return *l.SalesItemLineDetail.UnitPrice
	}
	return l.Amount.Div(decimal.NewFromInt(int64(l.Quantity()))).Round(2)
}

// LinkedTxn links a document to another, e.g. an invoice to its estimate.
type LinkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

// Document holds the fields shared by invoices and estimates.
type Document struct {
	ID          string           `json:"Id"`
	DocNumber   *string          `json:"DocNumber,omitempty"`
	CustomerRef Ref              `json:"CustomerRef"`
	TotalAmt    *decimal.Decimal `json:"TotalAmt,omitempty"`
	Line        []Line           `json:"Line"`
	LinkedTxn   []LinkedTxn      `json:"LinkedTxn,omitempty"`
}

// Number returns the document number, or "" when absent.
func (d *Document) Number() string {
	if d.DocNumber == nil {
		return ""
	}
	return *d.DocNumber
}

// Linked returns the id of the first linked transaction of txnType.
func (d *Document) Linked(txnType string) (string, bool) {
	for _, l := range d.LinkedTxn {
		if l.TxnType == txnType && l.TxnID != "" {
			return l.TxnID, true
		}
	}
	return "", false
}

type Invoice struct {
	Document
}

func (i *Invoice) EntityName() string { return EntityInvoice }
func (i *Invoice) ExternalID() string { return i.ID }

type Estimate struct {
	Document
}

func (e *Estimate) EntityName() string { return EntityEstimate }
func (e *Estimate) ExternalID() string { return e.ID }

// NewEntity returns an empty entity for name, matched case-insensitively.
func NewEntity(name string) (Entity, error) {
	switch strings.ToLower(name) {
	case "customer":
		return &Customer{}, nil
	case "item":
		return &Item{}, nil
	case "invoice":
		return &Invoice{}, nil
	case "estimate":
		return &Estimate{}, nil
	}
	return nil, apperr.Validation("unsupported QuickBooks entity %q", name)
}

// CanonicalName returns the API spelling of a supported entity name.
func CanonicalName(name string) (string, bool) {
	e, err := NewEntity(name)
	if err != nil {
		return "", false
	}
	return e.EntityName(), true
}

// DecodeEntity decodes an API read response such as {"Customer": {...}}.
func DecodeEntity(name string, body []byte) (Entity, error) {
	e, err := NewEntity(name)
	if err != nil {
		return nil, err
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	raw, ok := envelope[e.EntityName()]
	if !ok {
		return nil, fmt.Errorf("decode %s response: missing %q object", name, e.EntityName())
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if e.ExternalID() == "" {
		return nil, fmt.Errorf("decode %s: missing Id", name)
	}
	return e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
