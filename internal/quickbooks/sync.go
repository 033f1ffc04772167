package quickbooks

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/isolation"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/orders"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome of syncing one change or line.
const (
	StatusSynced  = "synced"
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// CompanySource reports the connected QuickBooks company.
type CompanySource interface {
	CompanyID(ctx context.Context) (string, error)
}

// LineResult is the outcome for one document line.
type LineResult struct {
	LineID      string      `json:"lineId"`
	OrderItemID uint        `json:"orderItemId,omitempty"`
	Status      string      `json:"status"`
	Kind        apperr.Kind `json:"kind,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// DocumentResult is the outcome of syncing an invoice or estimate.
type DocumentResult struct {
	OrderID   uint         `json:"orderId"`
	Created   bool         `json:"created"`
	Lines     []LineResult `json:"lines"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// ChangeResult is the outcome of one webhook entity change.
type ChangeResult struct {
	Entity    string          `json:"entity"`
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Document  *DocumentResult `json:"document,omitempty"`
}

// SyncEngine maps QuickBooks entities onto local customers, items, orders
// and order items.
type SyncEngine struct {
	db      *gorm.DB
	fetch   Fetcher
	company CompanySource
	guard   *isolation.Guard
	log     *slog.Logger
}

// NewSyncEngine builds an engine. guard may be nil.
func NewSyncEngine(db *gorm.DB, fetch Fetcher, company CompanySource, guard *isolation.Guard, log *slog.Logger) *SyncEngine {
	log = logging.OrDiscard(log)
	if guard == nil {
		guard = isolation.NewGuard(db, log)
	}
	return &SyncEngine{db: db, fetch: fetch, company: company, guard: guard, log: log.With("component", "quickbooks.sync")}
}

// SyncCustomer creates or updates the local customer for c. Missing contact
// and address fields are left untouched on update.
func (s *SyncEngine) SyncCustomer(ctx context.Context, c *Customer) (*models.Customer, error) {
	if c == nil || c.ID == "" {
		return nil, apperr.Validation("customer id is required")
	}
	name := strings.TrimSpace(c.DisplayName)
	if name == "" {
		name = deref(c.CompanyName)
	}
	if name == "" {
		name = "QuickBooks customer " + c.ID
	}

	var out models.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("quickbooks_customer_id = ?", c.ID).First(&out).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = models.Customer{QuickbooksCustomerID: &c.ID}
		}
		out.Name = name
		out.Status = recordStatus(c.Active)
		if c.PrimaryEmailAddr != nil {
			out.Email = strings.TrimSpace(c.PrimaryEmailAddr.Address)
		}
		if c.PrimaryPhone != nil {
			out.Phone = strings.TrimSpace(c.PrimaryPhone.FreeFormNumber)
		}
		addr := c.BillAddr
		if addr == nil {
			addr = c.ShipAddr
		}
		if addr != nil {
			applyAddress(&out, addr)
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err, "customer")
	}
	return &out, nil
}

func applyAddress(dst *models.Customer, a *PhysicalAddress) {
	set := func(field *string, v *string) {
		if v != nil {
			*field = strings.TrimSpace(*v)
		}
	}
	set(&dst.AddressLine1, a.Line1)
	set(&dst.AddressLine2, a.Line2)
	set(&dst.City, a.City)
	set(&dst.State, a.CountrySubDivisionCode)
	set(&dst.PostalCode, a.PostalCode)
	set(&dst.Country, a.Country)
}

func recordStatus(active *bool) models.RecordStatus {
	if active != nil && !*active {
		return models.RecordStatusInactive
	}
	return models.RecordStatusActive
}

// SyncItem creates or updates the local catalog item for i. Whether an item
// is a product is decided from its type when created and kept afterwards.
func (s *SyncEngine) SyncItem(ctx context.Context, i *Item) (*models.Item, error) {
	if i == nil || i.ID == "" {
		return nil, apperr.Validation("item id is required")
	}
	var out models.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("quickbooks_item_id = ?", i.ID).First(&out).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = models.Item{QuickbooksItemID: &i.ID, IsProduct: i.IsProduct()}
		}
		out.Name = strings.TrimSpace(i.Name)
		if out.Name == "" {
			out.Name = "QuickBooks item " + i.ID
		}
		if i.Description != nil {
			out.Description = deref(i.Description)
		}
		if i.UnitPrice != nil {
			out.RetailPrice = i.UnitPrice.Round(2)
		}
		out.Status = recordStatus(i.Active)
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err, "item")
	}
	return &out, nil
}

// SyncInvoice upserts the order for an invoice. An invoice created from a
// previously synced estimate updates that estimate's order.
func (s *SyncEngine) SyncInvoice(ctx context.Context, inv *Invoice) (*DocumentResult, error) {
	if inv == nil {
		return nil, apperr.Validation("invoice is required")
	}
	return s.syncDocument(ctx, EntityInvoice, &inv.Document)
}

// SyncEstimate upserts the order for an estimate.
func (s *SyncEngine) SyncEstimate(ctx context.Context, est *Estimate) (*DocumentResult, error) {
	if est == nil {
		return nil, apperr.Validation("estimate is required")
	}
	return s.syncDocument(ctx, EntityEstimate, &est.Document)
}

// syncDocument fails as a whole only when the customer or the order cannot
// be resolved. Each line is applied in its own transaction.
func (s *SyncEngine) syncDocument(ctx context.Context, kind string, doc *Document) (*DocumentResult, error) {
	if doc.ID == "" {
		return nil, apperr.Validation("%s id is required", kind)
	}
	log := s.log.With("entity", kind, "id", doc.ID)
	customer, err := s.resolveCustomer(ctx, doc.CustomerRef.Value)
	if err != nil {
		log.Warn("document skipped, customer unresolved", "customer_ref", doc.CustomerRef.Value, "err", err)
		return nil, err
	}
	order, created, err := s.upsertOrder(ctx, kind, doc, customer.ID)
	if err != nil {
		return nil, err
	}

	res := &DocumentResult{OrderID: order.ID, Created: created}
	for _, line := range doc.Line {
		if !line.IsSalesLine() {
			continue
		}
		lr := s.syncLine(ctx, order.ID, line)
		if lr.Status == StatusFailed {
			res.Failed++
			log.Warn("line sync failed", "order_id", order.ID, "line_id", lr.LineID, "kind", lr.Kind, "err", lr.Error)
		} else {
			res.Succeeded++
		}
		res.Lines = append(res.Lines, lr)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return orders.RecomputeTotal(tx, order.ID)
	}); err != nil {
		return res, err
	}
	log.Info("document synced", "order_id", order.ID, "created", created, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}

func (s *SyncEngine) resolveCustomer(ctx context.Context, ref string) (*models.Customer, error) {
	if ref == "" {
		return nil, apperr.Validation("document has no customer reference")
	}
	var c models.Customer
	err := s.db.WithContext(ctx).Where("quickbooks_customer_id = ?", ref).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.FromStore(err, "customer")
	}
	e, err := s.fetch.Fetch(ctx, EntityCustomer, ref)
	if err != nil {
		return nil, err
	}
	return s.SyncCustomer(ctx, e.(*Customer))
}

func (s *SyncEngine) resolveItem(ctx context.Context, ref string) (*models.Item, error) {
	if ref == "" {
		return nil, apperr.Validation("line has no item reference")
	}
	var it models.Item
	err := s.db.WithContext(ctx).Where("quickbooks_item_id = ?", ref).First(&it).Error
	if err == nil {
		return &it, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.FromStore(err, "item")
	}
	e, err := s.fetch.Fetch(ctx, EntityItem, ref)
	if err != nil {
		return nil, err
	}
	return s.SyncItem(ctx, e.(*Item))
}

func (s *SyncEngine) upsertOrder(ctx context.Context, kind string, doc *Document, customerID uint) (*models.Order, bool, error) {
	column := "quickbooks_order_id"
	if kind == EntityEstimate {
		column = "quickbooks_estimate_id"
	}
	var (
		order   models.Order
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(column+" = ?", doc.ID).First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) && kind == EntityInvoice {
			if estID, ok := doc.Linked(EntityEstimate); ok {
				err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("quickbooks_estimate_id = ?", estID).First(&order).Error
				if err == nil {
					order.QuickbooksOrderID = &doc.ID
				}
			}
		}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			order = models.Order{CustomerID: customerID, Status: models.OrderStatusPending}
			id := doc.ID
			if kind == EntityEstimate {
				order.QuickbooksEstimateID = &id
			} else {
				order.QuickbooksOrderID = &id
			}
			created = true
		case err != nil:
			return err
		}
		if n := doc.Number(); n != "" {
			order.SalesOrderNumber = n
		}
		if order.CanEditItems() {
			order.CustomerID = customerID
		}
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, false, apperr.FromStore(err, "order")
	}
	return &order, created, nil
}

func (s *SyncEngine) syncLine(ctx context.Context, orderID uint, line Line) LineResult {
	lr := LineResult{LineID: line.ID}
	fail := func(err error) LineResult {
		lr.Status = StatusFailed
		lr.Kind = apperr.KindOf(err)
		lr.Error = err.Error()
		return lr
	}
	if line.ID == "" {
		return fail(apperr.Validation("line has no id"))
	}
	item, err := s.resolveItem(ctx, line.SalesItemLineDetail.ItemRef.Value)
	if err != nil {
		return fail(err)
	}
	qty := line.Quantity()
	price := line.UnitPrice().Round(2)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
			return err
		}
		if order.IsTerminal() {
			return apperr.Precondition("order %s is %s", order.Number(), order.Status)
		}

		var existing models.OrderItem
		err := tx.Where("order_id = ? AND quickbooks_order_line_id = ?", orderID, line.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !order.CanEditItems() {
				return apperr.Precondition("cannot add line %s to order %s in status %s", line.ID, order.Number(), order.Status)
			}
			if err := s.guard.WithTx(tx).ValidateLineReference(ctx, orderID, line.ID, 0); err != nil {
				return err
			}
			ref := line.ID
			oi := models.OrderItem{
				OrderID:               orderID,
				ItemID:                item.ID,
				Quantity:              qty,
				PricePerItem:          price,
				ItemStatus:            models.ItemStatusNotStarted,
				QuickbooksOrderLineID: &ref,
				IsProduct:             item.IsProduct,
			}
			if err := tx.Create(&oi).Error; err != nil {
				return err
			}
			lr.OrderItemID = oi.ID
			lr.Status = StatusCreated
			return nil
		}
		if err != nil {
			return err
		}

		lr.OrderItemID = existing.ID
		updates := map[string]any{}
		if existing.ItemID != item.ID {
			if !order.CanEditItems() {
				return apperr.Precondition("cannot change the item of line %s once order %s is %s", line.ID, order.Number(), order.Status)
			}
			updates["item_id"] = item.ID
			updates["is_product"] = item.IsProduct
		}
		if existing.Quantity != qty {
			updates["quantity"] = qty
		}
		if !existing.PricePerItem.Equal(price) {
			updates["price_per_item"] = price
		}
		if len(updates) == 0 {
			lr.Status = StatusSynced
			return nil
		}
		lr.Status = StatusUpdated
		return tx.Model(&models.OrderItem{}).Where("id = ? AND order_id = ?", existing.ID, orderID).Updates(updates).Error
	})
	if err != nil {
		if _, ok := err.(*apperr.Error); !ok {
			err = apperr.FromStore(err, "order item")
		}
		return fail(err)
	}
	return lr
}

// HandleEntityChange applies one webhook change for realmID. Create, Update
// and Merge fetch the current entity; Delete and Void deactivate it. Changes
// for a realm other than the connected company are skipped.
func (s *SyncEngine) HandleEntityChange(ctx context.Context, realmID string, change EntityChange) ChangeResult {
	company, err := s.company.CompanyID(ctx)
	if err != nil {
		s.log.Error("cannot read connected company", "err", err)
	}
	if company == "" || realmID != company {
		s.log.Warn("ignoring change for unconnected realm", "realm_id", realmID)
		return ChangeResult{Entity: change.Name, ID: change.ID, Operation: change.Operation, Status: StatusSkipped}
	}
	return s.apply(ctx, change)
}

func (s *SyncEngine) apply(ctx context.Context, change EntityChange) ChangeResult {
	res := ChangeResult{Entity: change.Name, ID: change.ID, Operation: change.Operation}
	name, ok := CanonicalName(change.Name)
	if !ok {
		res.Status = StatusSkipped
		return res
	}
	res.Entity = name

	var err error
	switch strings.ToLower(change.Operation) {
	case "create", "update", "merge":
		res.Document, err = s.pull(ctx, name, change.ID)
		if err == nil && change.DeletedID != "" {
			_, err = s.deactivate(ctx, name, change.DeletedID)
		}
	case "delete", "void":
		var skipped bool
		skipped, err = s.deactivate(ctx, name, change.ID)
		if skipped {
			res.Status = StatusSkipped
			return res
		}
	default:
		res.Status = StatusSkipped
		return res
	}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		s.log.Warn("entity change failed", "entity", name, "id", change.ID, "operation", change.Operation, "err", err)
		return res
	}
	res.Status = StatusSynced
	return res
}

// Pull fetches entity name/id and applies it.
func (s *SyncEngine) Pull(ctx context.Context, name, id string) (*DocumentResult, error) {
	canonical, ok := CanonicalName(name)
	if !ok {
		return nil, apperr.Validation("unsupported QuickBooks entity %q", name)
	}
	return s.pull(ctx, canonical, id)
}

func (s *SyncEngine) pull(ctx context.Context, name, id string) (*DocumentResult, error) {
	e, err := s.fetch.Fetch(ctx, name, id)
	if err != nil {
		return nil, err
	}
	switch v := e.(type) {
	case *Customer:
		_, err = s.SyncCustomer(ctx, v)
	case *Item:
		_, err = s.SyncItem(ctx, v)
	case *Invoice:
		return s.SyncInvoice(ctx, v)
	case *Estimate:
		return s.SyncEstimate(ctx, v)
	}
	return nil, err
}

// deactivate marks customers and items inactive and cancels orders that
// have not entered production. skipped is true when nothing local matched or
// the order is already being worked.
func (s *SyncEngine) deactivate(ctx context.Context, name, id string) (skipped bool, err error) {
	db := s.db.WithContext(ctx)
	switch name {
	case EntityCustomer:
		r := db.Model(&models.Customer{}).Where("quickbooks_customer_id = ?", id).Update("status", models.RecordStatusInactive)
		return r.RowsAffected == 0, r.Error
	case EntityItem:
		r := db.Model(&models.Item{}).Where("quickbooks_item_id = ?", id).Update("status", models.RecordStatusInactive)
		return r.RowsAffected == 0, r.Error
	}

	column := "quickbooks_order_id"
	if name == EntityEstimate {
		column = "quickbooks_estimate_id"
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(column+" = ?", id).First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusApproved {
			skipped = true
			return nil
		}
		var started int64
		if err := tx.Model(&models.OrderItem{}).
			Where("order_id = ? AND item_status <> ?", order.ID, models.ItemStatusNotStarted).
			Count(&started).Error; err != nil {
			return err
		}
		if started > 0 {
			skipped = true
			return nil
		}
		return orders.CancelTx(tx, &order, 0)
	})
	if skipped {
		s.log.Info("deletion not applied", "entity", name, "id", id)
	}
	return skipped, err
}

// HandleNotification applies every change of n whose realm is the connected
// company. Changes for other realms are reported as skipped.
func (s *SyncEngine) HandleNotification(ctx context.Context, n Notification) []ChangeResult {
	company, err := s.company.CompanyID(ctx)
	if err != nil {
		s.log.Error("cannot read connected company", "err", err)
	}
	var out []ChangeResult
	for _, ev := range n.EventNotifications {
		if company == "" || ev.RealmID != company {
			s.log.Warn("ignoring notification for unconnected realm", "realm_id", ev.RealmID)
			for _, ch := range ev.DataChangeEvent.Entities {
				out = append(out, ChangeResult{Entity: ch.Name, ID: ch.ID, Operation: ch.Operation, Status: StatusSkipped})
			}
			continue
		}
		for _, ch := range ev.DataChangeEvent.Entities {
			out = append(out, s.apply(ctx, ch))
		}
	}
	return out
}
