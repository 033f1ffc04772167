package quickbooks

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/models"
)

type fakeFetcher struct {
	entities map[string]Entity
	errs     map[string]error
	calls    map[string]int
}

func newFakeFetcher(entities ...Entity) *fakeFetcher {
	f := &fakeFetcher{entities: map[string]Entity{}, errs: map[string]error{}, calls: map[string]int{}}
	for _, e := range entities {
		f.entities[e.EntityName()+"/"+e.ExternalID()] = e
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, name, id string) (Entity, error) {
	key := name + "/" + id
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if e, ok := f.entities[key]; ok {
		return e, nil
	}
	return nil, apperr.NotFound("%s %s not found", name, id)
}

type staticCompany string

func (c staticCompany) CompanyID(context.Context) (string, error) { return string(c), nil }

func ptr[T any](v T) *T { return &v }

func dec(v int64) *decimal.Decimal { d := decimal.NewFromInt(v); return &d }

func salesLine(id, itemRef string, qty, price int64) Line {
	return Line{
		ID:         id,
		Amount:     decimal.NewFromInt(qty * price),
		DetailType: "SalesItemLineDetail",
		SalesItemLineDetail: &SalesItemLineDetail{
			ItemRef:   Ref{Value: itemRef},
			Qty:       dec(qty),
			UnitPrice: dec(price),
		},
	}
}

func invoice(id, number, customer string, lines ...Line) *Invoice {
	return &Invoice{Document: Document{ID: id, DocNumber: ptr(number), CustomerRef: Ref{Value: customer}, Line: lines}}
}

func newEngine(d *gorm.DB, f Fetcher) *SyncEngine {
	return NewSyncEngine(d, f, staticCompany("realm-1"), nil, nil)
}

func catalog() *fakeFetcher {
	return newFakeFetcher(
		&Customer{ID: "C1", DisplayName: "Acme Spas", PrimaryEmailAddr: &EmailAddress{Address: "ops@acme.test"}},
		&Item{ID: "I1", Name: "Spa Cover 8x8", Type: "Inventory", UnitPrice: dec(450)},
		&Item{ID: "I2", Name: "Delivery", Type: "Service", UnitPrice: dec(50)},
	)
}

func orderItems(t *testing.T, d *gorm.DB, orderID uint) []models.OrderItem {
	t.Helper()
	var items []models.OrderItem
	require.NoError(t, d.Where("order_id = ?", orderID).Order("id").Find(&items).Error)
	return items
}

func TestSyncCustomer_PartialData(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, newFakeFetcher())
	ctx := context.Background()

	c, err := e.SyncCustomer(ctx, &Customer{
		ID:          "C9",
		DisplayName: "Hot Tub Co",
		BillAddr:    &PhysicalAddress{City: ptr("Austin")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Austin", c.City)
	assert.Empty(t, c.State)
	assert.Empty(t, c.Email)

	c, err = e.SyncCustomer(ctx, &Customer{
		ID:           "C9",
		DisplayName:  "Hot Tub Co.",
		PrimaryPhone: &PhoneNumber{FreeFormNumber: " 555-0100 "},
		BillAddr:     &PhysicalAddress{CountrySubDivisionCode: ptr("TX")},
		Active:       ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hot Tub Co.", c.Name)
	assert.Equal(t, "555-0100", c.Phone)
	assert.Equal(t, "Austin", c.City)
	assert.Equal(t, "TX", c.State)
	assert.Equal(t, models.RecordStatusInactive, c.Status)

	var n int64
	require.NoError(t, d.Model(&models.Customer{}).Where("quickbooks_customer_id = ?", "C9").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSyncItem_KeepsLocalProductFlag(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, newFakeFetcher())
	ctx := context.Background()

	it, err := e.SyncItem(ctx, &Item{ID: "I5", Name: "Install", Type: "Service"})
	require.NoError(t, err)
	assert.False(t, it.IsProduct)

	require.NoError(t, d.Model(it).Update("is_product", true).Error)
	it, err = e.SyncItem(ctx, &Item{ID: "I5", Name: "Install kit", Type: "Service", UnitPrice: dec(99)})
	require.NoError(t, err)
	assert.True(t, it.IsProduct)
	assert.Equal(t, "Install kit", it.Name)
	assert.True(t, it.RetailPrice.Equal(decimal.NewFromInt(99)))
}

func TestSyncInvoice_CreatesOrderAndLines(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	e := newEngine(d, f)

	inv := invoice("INV1", "1001", "C1", salesLine("1", "I1", 2, 450), salesLine("2", "I2", 1, 50),
		Line{ID: "3", DetailType: "SubTotalLineDetail", Amount: decimal.NewFromInt(950)})
	res, err := e.SyncInvoice(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.Failed)

	var order models.Order
	require.NoError(t, d.First(&order, res.OrderID).Error)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "1001", order.SalesOrderNumber)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(950)), order.TotalAmount.String())

	items := orderItems(t, d, order.ID)
	require.Len(t, items, 2)
	assert.True(t, items[0].IsProduct)
	assert.False(t, items[1].IsProduct)
	assert.Equal(t, models.ItemStatusNotStarted, items[0].ItemStatus)

	res, err = e.SyncInvoice(context.Background(), invoice("INV1", "1001", "C1", salesLine("1", "I1", 3, 450), salesLine("2", "I2", 1, 50)))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, StatusUpdated, res.Lines[0].Status)
	assert.Equal(t, StatusSynced, res.Lines[1].Status)
	assert.Len(t, orderItems(t, d, order.ID), 2)
	assert.Equal(t, 1, f.calls["Customer/C1"])
}

func TestSyncInvoice_SameLineIDsStayInTheirOrders(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, catalog())
	ctx := context.Background()

	a, err := e.SyncInvoice(ctx, invoice("INV-A", "A", "C1", salesLine("1", "I1", 1, 450)))
	require.NoError(t, err)
	b, err := e.SyncInvoice(ctx, invoice("INV-B", "B", "C1", salesLine("1", "I1", 1, 400)))
	require.NoError(t, err)
	require.NotEqual(t, a.OrderID, b.OrderID)

	itemsA := orderItems(t, d, a.OrderID)
	itemsB := orderItems(t, d, b.OrderID)
	require.Len(t, itemsA, 1)
	require.Len(t, itemsB, 1)
	assert.True(t, itemsA[0].PricePerItem.Equal(decimal.NewFromInt(450)))
	assert.True(t, itemsB[0].PricePerItem.Equal(decimal.NewFromInt(400)))
	assert.NotEqual(t, itemsA[0].ID, itemsB[0].ID)
}

func TestSyncInvoice_FailingLineDoesNotAbortSiblings(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	f.errs["Item/I404"] = apperr.NotFound("Item I404 not found")
	e := newEngine(d, f)

	res, err := e.SyncInvoice(context.Background(), invoice("INV1", "1001", "C1",
		salesLine("1", "I1", 1, 450), salesLine("2", "I404", 1, 10), salesLine("3", "I2", 1, 50)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StatusFailed, res.Lines[1].Status)
	assert.Equal(t, apperr.KindNotFound, res.Lines[1].Kind)
	assert.Len(t, orderItems(t, d, res.OrderID), 2)
}

func TestSyncInvoice_NewLineOnApprovedOrderFails(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, catalog())
	ctx := context.Background()

	res, err := e.SyncInvoice(ctx, invoice("INV1", "1001", "C1", salesLine("1", "I1", 1, 450)))
	require.NoError(t, err)
	require.NoError(t, d.Model(&models.Order{}).Where("id = ?", res.OrderID).Update("status", models.OrderStatusApproved).Error)

	res, err = e.SyncInvoice(ctx, invoice("INV1", "1001", "C1", salesLine("1", "I1", 1, 475), salesLine("2", "I1", 1, 450)))
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Lines[0].Status)
	assert.Equal(t, StatusFailed, res.Lines[1].Status)
	assert.Equal(t, apperr.KindPrecondition, res.Lines[1].Kind)
	assert.Len(t, orderItems(t, d, res.OrderID), 1)
}

func TestSyncInvoice_UnresolvedCustomerFailsDocument(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, catalog())
	_, err := e.SyncInvoice(context.Background(), invoice("INV1", "1001", "C-missing", salesLine("1", "I1", 1, 450)))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	var n int64
	require.NoError(t, d.Model(&models.Order{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestSyncInvoice_AttachesToEstimateOrder(t *testing.T) {
	d := dbtest.Open(t)
	e := newEngine(d, catalog())
	ctx := context.Background()

	est := &Estimate{Document: Document{ID: "EST1", CustomerRef: Ref{Value: "C1"}, Line: []Line{salesLine("1", "I1", 1, 450)}}}
	er, err := e.SyncEstimate(ctx, est)
	require.NoError(t, err)

	inv := invoice("INV9", "2001", "C1", salesLine("1", "I1", 1, 450))
	inv.LinkedTxn = []LinkedTxn{{TxnID: "EST1", TxnType: "Estimate"}}
	ir, err := e.SyncInvoice(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, er.OrderID, ir.OrderID)
	assert.False(t, ir.Created)

	var order models.Order
	require.NoError(t, d.First(&order, ir.OrderID).Error)
	require.NotNil(t, order.QuickbooksOrderID)
	assert.Equal(t, "INV9", *order.QuickbooksOrderID)
	assert.Len(t, orderItems(t, d, order.ID), 1)
}

func TestHandleEntityChange_DeleteCancelsUnstartedOrder(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	f.entities["Invoice/INV1"] = invoice("INV1", "1001", "C1", salesLine("1", "I1", 1, 450))
	e := newEngine(d, f)
	ctx := context.Background()

	res := e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Invoice", ID: "INV1", Operation: "Create"})
	require.Equal(t, StatusSynced, res.Status, res.Error)
	require.NotNil(t, res.Document)

	res = e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Invoice", ID: "INV1", Operation: "Delete"})
	assert.Equal(t, StatusSynced, res.Status)
	var order models.Order
	require.NoError(t, d.First(&order).Error)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestHandleEntityChange_DeleteSkipsOrderInProduction(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	f.entities["Invoice/INV1"] = invoice("INV1", "1001", "C1", salesLine("1", "I1", 1, 450))
	e := newEngine(d, f)
	ctx := context.Background()

	res := e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Invoice", ID: "INV1", Operation: "Update"})
	require.Equal(t, StatusSynced, res.Status, res.Error)
	require.NoError(t, d.Model(&models.Order{}).Where("id = ?", res.Document.OrderID).Update("status", models.OrderStatusOrderProcessing).Error)
	require.NoError(t, d.Model(&models.OrderItem{}).Where("order_id = ?", res.Document.OrderID).Update("item_status", models.ItemStatusCutting).Error)

	res = e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Invoice", ID: "INV1", Operation: "Void"})
	assert.Equal(t, StatusSkipped, res.Status)
	var order models.Order
	require.NoError(t, d.First(&order).Error)
	assert.Equal(t, models.OrderStatusOrderProcessing, order.Status)
}

func TestHandleEntityChange_MergeDeactivatesMergedCustomer(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	f.entities["Customer/C2"] = &Customer{ID: "C2", DisplayName: "Old Acme"}
	e := newEngine(d, f)
	ctx := context.Background()

	require.Equal(t, StatusSynced, e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "customer", ID: "C2", Operation: "Create"}).Status)
	res := e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Customer", ID: "C1", Operation: "Merge", DeletedID: "C2"})
	require.Equal(t, StatusSynced, res.Status, res.Error)

	var merged models.Customer
	require.NoError(t, d.Where("quickbooks_customer_id = ?", "C2").First(&merged).Error)
	assert.Equal(t, models.RecordStatusInactive, merged.Status)
}

func TestHandleEntityChange_SkipsUnknownEntityAndRealm(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	e := newEngine(d, f)
	ctx := context.Background()

	assert.Equal(t, StatusSkipped, e.HandleEntityChange(ctx, "realm-1", EntityChange{Name: "Vendor", ID: "1", Operation: "Create"}).Status)
	assert.Equal(t, StatusSkipped, e.HandleEntityChange(ctx, "realm-2", EntityChange{Name: "Customer", ID: "C1", Operation: "Create"}).Status)
	assert.Zero(t, f.calls["Customer/C1"])
}

func TestHandleNotification_IgnoresOtherRealms(t *testing.T) {
	d := dbtest.Open(t)
	f := catalog()
	e := newEngine(d, f)

	n := Notification{EventNotifications: []EventNotification{
		{RealmID: "realm-1", DataChangeEvent: DataChangeEvent{Entities: []EntityChange{{Name: "Customer", ID: "C1", Operation: "Create"}}}},
		{RealmID: "realm-x", DataChangeEvent: DataChangeEvent{Entities: []EntityChange{{Name: "Item", ID: "I1", Operation: "Create"}}}},
	}}
	results := e.HandleNotification(context.Background(), n)
	require.Len(t, results, 2)
	assert.Equal(t, StatusSynced, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Zero(t, f.calls["Item/I1"])
}
