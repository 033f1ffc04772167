// Package production drives order items through the production stations and
// keeps the processing log ledger. All status changes go through Machine so
// that an item never has more than one open log.
package production

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/audit"
	"github.com/Kodeloom/spacovers-admin/internal/isolation"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Audit actions written by the machine.
const (
	ActionStatusChanged  = "ORDER_ITEM_STATUS_CHANGED"
	ActionStatusOverride = "ORDER_ITEM_STATUS_OVERRIDE"
	ActionOrderStatus    = "ORDER_STATUS_CHANGED"
)

// Machine is the order item status machine.
type Machine struct {
	db    *gorm.DB
	guard *isolation.Guard
	log   *slog.Logger
	now   func() time.Time
}

// NewMachine creates a machine. guard may be nil, in which case one is built
// over db.
func NewMachine(db *gorm.DB, guard *isolation.Guard, log *slog.Logger) *Machine {
	log = logging.OrDiscard(log)
	if guard == nil {
		guard = isolation.NewGuard(db, log)
	}
	return &Machine{db: db, guard: guard, log: log.With("component", "production"), now: time.Now}
}

// WithClock returns a copy of m using now as its time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	c := *m
	c.now = now
	return &c
}

// WorkResult is returned by StartWork and CompleteWork.
type WorkResult struct {
	OrderItem models.OrderItem         `json:"orderItem"`
	Log       models.ItemProcessingLog `json:"log"`
}

// StartWork opens a processing log for the item at the station and moves the
// item forward to the station's stage. A second start before completion
// fails with Conflict. Nothing is written when any reference is missing.
func (m *Machine) StartWork(ctx context.Context, orderItemID, stationID, userID uint) (*WorkResult, error) {
	var res WorkResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, orderItemID)
		if err != nil {
			return err
		}
		var station models.Station
		if err := tx.First(&station, stationID).Error; err != nil {
			return notFound(err, "station %d not found", stationID)
		}
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return notFound(err, "user %d not found", userID)
		}
		if !item.IsProduct {
			return apperr.Precondition("order item %d is not a production item", item.ID)
		}
		order, err := workableOrder(tx, item)
		if err != nil {
			return err
		}
		if item.ItemStatus == models.ItemStatusReady {
			return apperr.Precondition("order item %d is already ready", item.ID)
		}

		open, err := openLog(tx, item.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperr.Conflict("order item %d already has work in progress", item.ID).
				WithDetail("openLogId", open.ID).
				WithDetail("stationId", open.StationID).
				WithSuggestion("complete the current work before starting again")
		}

		entry := models.ItemProcessingLog{
			OrderItemID: item.ID,
			StationID:   station.ID,
			UserID:      user.ID,
			StartTime:   m.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict("order item %d already has work in progress", item.ID)
			}
			return apperr.FromStore(err, "processing log")
		}
		entry.Station = &station

		if station.Stage.Rank() > item.ItemStatus.Rank() {
			if err := m.changeStatus(tx, item, station.Stage, &user.ID, ActionStatusChanged); err != nil {
				return err
			}
		}
		if order.Status == models.OrderStatusApproved {
			if err := setOrderStatus(tx, order, models.OrderStatusOrderProcessing, &user.ID); err != nil {
				return err
			}
		}
		res = WorkResult{OrderItem: *item, Log: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("work started",
		"order_item_id", orderItemID, "station_id", stationID, "user_id", userID,
		"status", res.OrderItem.ItemStatus, "log_id", res.Log.ID)
	return &res, nil
}

// CompleteWork closes the item's open log and advances the item to the next
// stage. When every production item of the order is READY the order becomes
// READY_TO_SHIP.
func (m *Machine) CompleteWork(ctx context.Context, orderItemID uint) (*WorkResult, error) {
	var res WorkResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, orderItemID)
		if err != nil {
			return err
		}
		if !item.IsProduct {
			return apperr.Precondition("order item %d is not a production item", item.ID)
		}
		order, err := workableOrder(tx, item)
		if err != nil {
			return err
		}
		open, err := openLog(tx, item.ID)
		if err != nil {
			return err
		}
		if open == nil {
			return apperr.Precondition("order item %d has no work in progress", item.ID).
				WithSuggestion("start work at a station first")
		}

		if err := m.closeLog(tx, open); err != nil {
			return err
		}
		if next, ok := item.ItemStatus.Next(); ok {
			if err := m.changeStatus(tx, item, next, &open.UserID, ActionStatusChanged); err != nil {
				return err
			}
		}
		if item.ItemStatus == models.ItemStatusReady {
			if err := markReadyToShip(tx, order, &open.UserID); err != nil {
				return err
			}
		}
		res = WorkResult{OrderItem: *item, Log: *open}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("work completed",
		"order_item_id", orderItemID, "status", res.OrderItem.ItemStatus,
		"duration_seconds", *res.Log.DurationInSeconds, "log_id", res.Log.ID)
	return &res, nil
}

// SetStatus is the administrative override. The item must belong to
// expectedOrderID and status must be a defined value; stages may be skipped
// or reverted. Any open log is closed and an audit entry is written.
func (m *Machine) SetStatus(ctx context.Context, orderItemID, expectedOrderID uint, status models.ItemStatus, actorID uint) (*models.OrderItem, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown item status %q", status).
			WithDetail("allowed", models.ProductionSequence)
	}
	var out models.OrderItem
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := m.guard.WithTx(tx).CheckBelongsToOrder(ctx, orderItemID, expectedOrderID); err != nil {
			return err
		}
		item, err := lockItem(tx, orderItemID)
		if err != nil {
			return err
		}
		if !item.IsProduct && status != models.ItemStatusNotStarted {
			return apperr.Precondition("order item %d is not a production item", item.ID)
		}
		if item.ItemStatus != status {
			open, err := openLog(tx, item.ID)
			if err != nil {
				return err
			}
			if open != nil {
				if err := m.closeLog(tx, open); err != nil {
					return err
				}
			}
			if err := m.changeStatus(tx, item, status, audit.Actor(actorID), ActionStatusOverride); err != nil {
				return err
			}
			if status == models.ItemStatusReady {
				var order models.Order
				if err := tx.First(&order, item.OrderID).Error; err != nil {
					return apperr.FromStore(err, "order")
				}
				if order.IsWorkable() {
					if err := markReadyToShip(tx, &order, audit.Actor(actorID)); err != nil {
						return err
					}
				}
			}
		}
		out = *item
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("item status overridden", "order_item_id", orderItemID, "order_id", expectedOrderID, "status", status, "actor_id", actorID)
	return &out, nil
}

// Duration returns the whole seconds between start and end. Results of zero
// or less are corrected to 1 and reported as an anomaly.
func Duration(start, end time.Time) (seconds int, anomaly bool) {
	d := int(end.Sub(start) / time.Second)
	if d <= 0 {
		return 1, true
	}
	return d, false
}

// OpenLog returns the item's open log, or nil when no work is in progress.
func (m *Machine) OpenLog(ctx context.Context, orderItemID uint) (*models.ItemProcessingLog, error) {
	return openLog(m.db.WithContext(ctx), orderItemID)
}

// Logs returns the item's logs, oldest first.
func (m *Machine) Logs(ctx context.Context, orderItemID uint) ([]models.ItemProcessingLog, error) {
	var logs []models.ItemProcessingLog
	err := m.db.WithContext(ctx).Preload("Station").
		Where("order_item_id = ?", orderItemID).
		Order("start_time, id").Find(&logs).Error
	if err != nil {
		return nil, apperr.FromStore(err, "processing logs")
	}
	return logs, nil
}

func (m *Machine) closeLog(tx *gorm.DB, l *models.ItemProcessingLog) error {
	end := m.now()
	secs, anomaly := Duration(l.StartTime, end)
	if anomaly {
		m.log.Warn("non-positive work duration clamped",
			"log_id", l.ID, "order_item_id", l.OrderItemID,
			"start", l.StartTime, "end", end, "stored_seconds", secs)
	}
	upd := tx.Model(&models.ItemProcessingLog{}).
		Where("id = ? AND end_time IS NULL", l.ID).
		Updates(map[string]any{"end_time": end, "duration_in_seconds": secs})
	if upd.Error != nil {
		return apperr.FromStore(upd.Error, "processing log")
	}
	if upd.RowsAffected == 0 {
		return apperr.Conflict("processing log %d was already closed", l.ID)
	}
	l.EndTime = &end
	l.DurationInSeconds = &secs
	return nil
}

func (m *Machine) changeStatus(tx *gorm.DB, item *models.OrderItem, to models.ItemStatus, actor *uint, action string) error {
	from := item.ItemStatus
	if err := tx.Model(&models.OrderItem{}).Where("id = ?", item.ID).Update("item_status", to).Error; err != nil {
		return apperr.FromStore(err, "order item")
	}
	item.ItemStatus = to
	return audit.Record(tx, actor, action, "OrderItem", item.ID,
		map[string]any{"itemStatus": from}, map[string]any{"itemStatus": to})
}

func lockItem(tx *gorm.DB, id uint) (*models.OrderItem, error) {
	var item models.OrderItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
		return nil, notFound(err, "order item %d not found", id)
	}
	return &item, nil
}

func workableOrder(tx *gorm.DB, item *models.OrderItem) (*models.Order, error) {
	var order models.Order
	if err := tx.First(&order, item.OrderID).Error; err != nil {
		return nil, notFound(err, "order %d not found", item.OrderID)
	}
	if !order.IsWorkable() {
		return nil, apperr.Precondition("order %s is %s; production work requires an approved order", order.Number(), order.Status).
			WithDetail("orderStatus", order.Status)
	}
	return &order, nil
}

func openLog(tx *gorm.DB, orderItemID uint) (*models.ItemProcessingLog, error) {
	var l models.ItemProcessingLog
	err := tx.Where("order_item_id = ? AND end_time IS NULL", orderItemID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "processing log")
	}
	return &l, nil
}

func setOrderStatus(tx *gorm.DB, order *models.Order, to models.OrderStatus, actor *uint) error {
	from := order.Status
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", to).Error; err != nil {
		return apperr.FromStore(err, "order")
	}
	order.Status = to
	return audit.Record(tx, actor, ActionOrderStatus, "Order", order.ID,
		map[string]any{"status": from}, map[string]any{"status": to})
}

func markReadyToShip(tx *gorm.DB, order *models.Order, actor *uint) error {
	var pending int64
	err := tx.Model(&models.OrderItem{}).
		Where("order_id = ? AND is_product = ? AND item_status <> ?", order.ID, true, models.ItemStatusReady).
		Count(&pending).Error
	if err != nil {
		return apperr.FromStore(err, "order items")
	}
	if pending > 0 {
		return nil
	}
	return setOrderStatus(tx, order, models.OrderStatusReadyToShip, actor)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal(err, format, args...)
}
