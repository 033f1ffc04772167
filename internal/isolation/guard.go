// Package isolation keeps order items bound to their own order. Two orders
// may hold items for the same catalog item and even the same QuickBooks line
// reference; the guard makes sure nothing reads or writes across them.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Guard runs preventive checks before writes and detective scans afterwards.
type Guard struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewGuard(db *gorm.DB, log *slog.Logger) *Guard {
	return &Guard{db: db, log: logging.OrDiscard(log).With("component", "isolation")}
}

// WithTx returns a guard that reads through tx.
func (g *Guard) WithTx(tx *gorm.DB) *Guard {
	return &Guard{db: tx, log: g.log}
}

// Result is the outcome of a preventive check. Reason is set when invalid.
// Missing marks an order item that does not exist; otherwise OrderItem holds
// the loaded row, valid or not.
type Result struct {
	Valid     bool              `json:"valid"`
	Missing   bool              `json:"missing,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	OrderItem *models.OrderItem `json:"-"`
}

func invalid(item *models.OrderItem, format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...), OrderItem: item}
}

func missing(orderItemID uint) Result {
	return Result{Missing: true, Reason: fmt.Sprintf("order item %d does not exist", orderItemID)}
}

// Err converts an invalid result into an IsolationViolation error.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return apperr.IsolationViolation("%s", r.Reason)
}

// OrderItemUpdate is a partial update of an order item. Nil fields are left
// unchanged.
type OrderItemUpdate struct {
	OrderID               *uint            `json:"orderId,omitempty"`
	ItemID                *uint            `json:"itemId,omitempty"`
	Quantity              *int             `json:"quantity,omitempty"`
	PricePerItem          *decimal.Decimal `json:"pricePerItem,omitempty"`
	QuickbooksOrderLineID *string          `json:"quickbooksOrderLineId,omitempty"`
	IsProduct             *bool            `json:"isProduct,omitempty"`
	Verified              *bool            `json:"verified,omitempty"`
}

// ValidateBelongsToOrder is invalid when the order item does not exist or
// belongs to another order. Store failures are returned as errors.
func (g *Guard) ValidateBelongsToOrder(ctx context.Context, orderItemID, expectedOrderID uint) (Result, error) {
	var item models.OrderItem
	err := g.db.WithContext(ctx).First(&item, orderItemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return missing(orderItemID), nil
	}
	if err != nil {
		return Result{}, apperr.FromStore(err, "order item")
	}
	if item.OrderID != expectedOrderID {
		g.log.Warn("order item accessed through wrong order",
			"order_item_id", orderItemID, "expected_order_id", expectedOrderID, "actual_order_id", item.OrderID)
		return invalid(&item, "order item %d belongs to order %d, not order %d", orderItemID, item.OrderID, expectedOrderID), nil
	}
	return Result{Valid: true, OrderItem: &item}, nil
}

// CheckBelongsToOrder is ValidateBelongsToOrder for mutating callers: a
// missing item is NotFound and a mismatch is an IsolationViolation.
func (g *Guard) CheckBelongsToOrder(ctx context.Context, orderItemID, expectedOrderID uint) (*models.OrderItem, error) {
	res, err := g.ValidateBelongsToOrder(ctx, orderItemID, expectedOrderID)
	if err != nil {
		return nil, err
	}
	if res.Missing {
		return nil, apperr.NotFound("order item %d not found", orderItemID)
	}
	if !res.Valid {
		return nil, apperr.IsolationViolation("%s", res.Reason).
			WithDetail("orderItemId", orderItemID).
			WithDetail("expectedOrderId", expectedOrderID)
	}
	return res.OrderItem, nil
}

// ValidateUpdatePayload rejects any update that would move the item to a
// different order or reuse a line reference already held by a sibling item.
// When expectedOrderID is set the item must also belong to it.
func (g *Guard) ValidateUpdatePayload(ctx context.Context, orderItemID uint, upd OrderItemUpdate, expectedOrderID *uint) (Result, error) {
	var item models.OrderItem
	err := g.db.WithContext(ctx).First(&item, orderItemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return missing(orderItemID), nil
	}
	if err != nil {
		return Result{}, apperr.FromStore(err, "order item")
	}
	if expectedOrderID != nil && item.OrderID != *expectedOrderID {
		return invalid(&item, "order item %d belongs to order %d, not order %d", orderItemID, item.OrderID, *expectedOrderID), nil
	}
	if upd.OrderID != nil && *upd.OrderID != item.OrderID {
		g.log.Warn("attempt to move order item between orders",
			"order_item_id", orderItemID, "from_order_id", item.OrderID, "to_order_id", *upd.OrderID)
		return invalid(&item, "order item %d cannot be moved from order %d to order %d; delete and recreate it instead",
			orderItemID, item.OrderID, *upd.OrderID), nil
	}
	if upd.QuickbooksOrderLineID != nil && *upd.QuickbooksOrderLineID != "" && *upd.QuickbooksOrderLineID != item.LineRef() {
		taken, err := g.lineTaken(ctx, item.OrderID, *upd.QuickbooksOrderLineID, item.ID)
		if err != nil {
			return Result{}, err
		}
		if taken {
			return invalid(&item, "line reference %q is already used by another item of order %d", *upd.QuickbooksOrderLineID, item.OrderID), nil
		}
	}
	return Result{Valid: true, OrderItem: &item}, nil
}

// ValidateLineReference returns a Conflict error when another item of
// orderID (other than excludeItemID) already carries lineID. Items of other
// orders are never consulted.
func (g *Guard) ValidateLineReference(ctx context.Context, orderID uint, lineID string, excludeItemID uint) error {
	if lineID == "" {
		return nil
	}
	taken, err := g.lineTaken(ctx, orderID, lineID, excludeItemID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("line reference %q is already used in order %d", lineID, orderID).
			WithDetail("orderId", orderID).
			WithDetail("quickbooksOrderLineId", lineID)
	}
	return nil
}

func (g *Guard) lineTaken(ctx context.Context, orderID uint, lineID string, excludeItemID uint) (bool, error) {
	var n int64
	q := g.db.WithContext(ctx).Model(&models.OrderItem{}).
		Where("order_id = ? AND quickbooks_order_line_id = ?", orderID, lineID)
	if excludeItemID != 0 {
		q = q.Where("id <> ?", excludeItemID)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, apperr.FromStore(err, "order item")
	}
	return n > 0, nil
}

// Contamination is a line reference that appears in more than one order.
type Contamination struct {
	QuickbooksOrderLineID string   `json:"quickbooksOrderLineId"`
	OrderCount            int      `json:"orderCount"`
	OrderIDs              []uint   `json:"orderIds"`
	OrderNumbers          []string `json:"orderNumbers"`
}

type lineRow struct {
	LineID           string
	OrderID          uint
	SalesOrderNumber string
}

// DetectCrossOrderContamination lists every line reference shared across
// orders. It only reads and may run at any time.
func (g *Guard) DetectCrossOrderContamination(ctx context.Context) ([]Contamination, error) {
	var rows []lineRow
	err := g.db.WithContext(ctx).Table("order_items").
		Select("order_items.quickbooks_order_line_id AS line_id, order_items.order_id AS order_id, orders.sales_order_number AS sales_order_number").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("order_items.quickbooks_order_line_id IS NOT NULL AND order_items.quickbooks_order_line_id <> ''").
		Order("order_items.quickbooks_order_line_id, order_items.order_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.FromStore(err, "order items")
	}

	byLine := map[string]*Contamination{}
	seen := map[string]map[uint]bool{}
	var lines []string
	for _, r := range rows {
		c, ok := byLine[r.LineID]
		if !ok {
			c = &Contamination{QuickbooksOrderLineID: r.LineID}
			byLine[r.LineID] = c
			seen[r.LineID] = map[uint]bool{}
			lines = append(lines, r.LineID)
		}
		if seen[r.LineID][r.OrderID] {
			continue
		}
		seen[r.LineID][r.OrderID] = true
		number := r.SalesOrderNumber
		if number == "" {
			number = fmt.Sprintf("#%d", r.OrderID)
		}
		c.OrderIDs = append(c.OrderIDs, r.OrderID)
		c.OrderNumbers = append(c.OrderNumbers, number)
	}

	sort.Strings(lines)
	out := []Contamination{}
	for _, l := range lines {
		c := byLine[l]
		c.OrderCount = len(c.OrderIDs)
		if c.OrderCount > 1 {
			out = append(out, *c)
		}
	}
	if len(out) > 0 {
		g.log.Warn("line references shared across orders", "count", len(out))
	}
	return out, nil
}

// Report is the per-order isolation check. Only Issues make it invalid;
// references shared with other orders are listed as Warnings.
type Report struct {
	OrderID     uint     `json:"orderId"`
	OrderNumber string   `json:"orderNumber"`
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues"`
	Warnings    []string `json:"warnings"`
	ItemCount   int      `json:"itemCount"`
}

// ValidateOrderIsolation checks one order for duplicate line references
// within it and reports references it shares with other orders.
func (g *Guard) ValidateOrderIsolation(ctx context.Context, orderID uint) (Report, error) {
	var order models.Order
	if err := g.db.WithContext(ctx).Preload("Items").First(&order, orderID).Error; err != nil {
		return Report{}, apperr.FromStore(err, fmt.Sprintf("order %d", orderID))
	}
	rep := Report{
		OrderID:     order.ID,
		OrderNumber: order.Number(),
		Issues:      []string{},
		Warnings:    []string{},
		ItemCount:   len(order.Items),
	}

	counts := map[string][]uint{}
	var refs []string
	for _, it := range order.Items {
		ref := it.LineRef()
		if ref == "" {
			continue
		}
		if _, ok := counts[ref]; !ok {
			refs = append(refs, ref)
		}
		counts[ref] = append(counts[ref], it.ID)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if ids := counts[ref]; len(ids) > 1 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("line reference %q is used by %d items in this order (%v)", ref, len(ids), ids))
		}
	}

	if len(refs) > 0 {
		var shared []lineRow
		err := g.db.WithContext(ctx).Table("order_items").
			Select("order_items.quickbooks_order_line_id AS line_id, order_items.order_id AS order_id, orders.sales_order_number AS sales_order_number").
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("order_items.quickbooks_order_line_id IN ? AND order_items.order_id <> ?", refs, orderID).
			Order("order_items.quickbooks_order_line_id, order_items.order_id").
			Scan(&shared).Error
		if err != nil {
			return Report{}, apperr.FromStore(err, "order items")
		}
		for _, s := range shared {
			number := s.SalesOrderNumber
			if number == "" {
				number = fmt.Sprintf("#%d", s.OrderID)
			}
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("line reference %q is also used by order %s", s.LineID, number))
		}
	}

	rep.Valid = len(rep.Issues) == 0
	return rep, nil
}
