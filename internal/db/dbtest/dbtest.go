// Package dbtest opens an isolated, migrated sqlite database per test.
package dbtest

import (
	"strconv"
	"strings"
	"testing"

	"github.com/Kodeloom/spacovers-admin/internal/db"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Open returns a migrated and seeded in-memory database unique to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := db.OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Seed(d); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return d
}

// Fixture holds rows created by Seed helpers.
type Fixture struct {
	Customer models.Customer
	Item     models.Item
	User     models.User
	Order    models.Order
}

// NewOrder creates a customer, a production catalog item, a worker and an
// order in the given status.
func NewOrder(t testing.TB, d *gorm.DB, status models.OrderStatus) Fixture {
	t.Helper()
	var f Fixture
	f.Customer = models.Customer{Name: "Acme Spas", Status: models.RecordStatusActive}
	mustCreate(t, d, &f.Customer)
	f.Item = models.Item{Name: "Spa Cover 8x8", RetailPrice: decimal.NewFromInt(450), IsProduct: true, Status: models.RecordStatusActive}
	mustCreate(t, d, &f.Item)
	f.User = models.User{Email: strings.ToLower(strings.NewReplacer("/", ".", " ", ".").Replace(t.Name())) + "@example.com", Name: "Worker", Status: models.RecordStatusActive}
	mustCreate(t, d, &f.User)
	f.Order = AddOrder(t, d, f.Customer.ID, status)
	return f
}

// AddOrder creates another order for customerID.
func AddOrder(t testing.TB, d *gorm.DB, customerID uint, status models.OrderStatus) models.Order {
	t.Helper()
	o := models.Order{CustomerID: customerID, Status: status}
	mustCreate(t, d, &o)
	if err := d.Model(&o).Update("sales_order_number", "SO-"+strconv.FormatUint(uint64(o.ID), 10)).Error; err != nil {
		t.Fatalf("set order number: %v", err)
	}
	o.SalesOrderNumber = "SO-" + strconv.FormatUint(uint64(o.ID), 10)
	return o
}

// AddItem creates an order item on orderID. lineRef may be empty.
func AddItem(t testing.TB, d *gorm.DB, orderID, itemID uint, lineRef string, isProduct bool) models.OrderItem {
	t.Helper()
	oi := models.OrderItem{
		OrderID:      orderID,
		ItemID:       itemID,
		Quantity:     1,
		PricePerItem: decimal.NewFromInt(450),
		ItemStatus:   models.ItemStatusNotStarted,
		IsProduct:    isProduct,
		Verified:     isProduct,
	}
	if lineRef != "" {
		ref := lineRef
		oi.QuickbooksOrderLineID = &ref
	}
	mustCreate(t, d, &oi)
	return oi
}

// Station returns the seeded station with the given name.
func Station(t testing.TB, d *gorm.DB, name string) models.Station {
	t.Helper()
	var st models.Station
	if err := d.Where("name = ?", name).First(&st).Error; err != nil {
		t.Fatalf("station %s: %v", name, err)
	}
	return st
}

func mustCreate(t testing.TB, d *gorm.DB, v any) {
	t.Helper()
	if err := d.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}
