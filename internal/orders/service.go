// Package orders implements the order lifecycle around production: editing
// items while PENDING, approval and cancellation.
package orders

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
	"github.com/Kodeloom/spacovers-admin/internal/printqueue"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Audit actions.
const (
	ActionApproved    = "ORDER_APPROVED"
	ActionCancelled   = "ORDER_CANCELLED"
	ActionItemAdded   = "ORDER_ITEM_ADDED"
	ActionItemRemoved = "ORDER_ITEM_REMOVED"
	ActionItemUpdated = "ORDER_ITEM_UPDATED"
)

// Service coordinates order changes with the isolation guard and print queue.
type Service struct {
	db    *gorm.DB
	guard *isolation.Guard
	queue *printqueue.Coordinator
	log   *slog.Logger
}

func NewService(db *gorm.DB, guard *isolation.Guard, queue *printqueue.Coordinator, log *slog.Logger) *Service {
	return &Service{db: db, guard: guard, queue: queue, log: logging.OrDiscard(log).With("component", "orders")}
}

// NewOrderItem is the payload for AddItem. Price defaults to the catalog
// retail price.
type NewOrderItem struct {
	ItemID                uint             `json:"itemId"`
	Quantity              int              `json:"quantity"`
	PricePerItem          *decimal.Decimal `json:"pricePerItem,omitempty"`
	QuickbooksOrderLineID *string          `json:"quickbooksOrderLineId,omitempty"`
	Verified              bool             `json:"verified"`
}

// Get loads an order with its items.
func (s *Service) Get(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items.Item").Preload("Customer").First(&order, orderID).Error
	if err != nil {
		return nil, notFound(err, "order %d not found", orderID)
	}
	return &order, nil
}

// AddItem adds a line to a PENDING order.
func (s *Service) AddItem(ctx context.Context, orderID uint, in NewOrderItem, actorID uint) (*models.OrderItem, error) {
	if in.Quantity <= 0 {
		in.Quantity = 1
	}
	var created models.OrderItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.CanEditItems() {
			return apperr.Precondition("order %s is %s; items can only be added while PENDING", order.Number(), order.Status)
		}
		var item models.Item
		if err := tx.First(&item, in.ItemID).Error; err != nil {
			return notFound(err, "item %d not found", in.ItemID)
		}
		if in.QuickbooksOrderLineID != nil {
			if err := s.guard.WithTx(tx).ValidateLineReference(ctx, order.ID, *in.QuickbooksOrderLineID, 0); err != nil {
				return err
			}
		}
		price := item.RetailPrice
		if in.PricePerItem != nil {
			price = *in.PricePerItem
		}
		created = models.OrderItem{
			OrderID:               order.ID,
			ItemID:                item.ID,
			Quantity:              in.Quantity,
			PricePerItem:          price,
			ItemStatus:            models.ItemStatusNotStarted,
			QuickbooksOrderLineID: in.QuickbooksOrderLineID,
			IsProduct:             item.IsProduct,
			Verified:              in.Verified,
		}
		if err := tx.Create(&created).Error; err != nil {
			return apperr.FromStore(err, "order item")
		}
		if err := RecomputeTotal(tx, order.ID); err != nil {
			return err
		}
		return audit.Record(tx, audit.Actor(actorID), ActionItemAdded, "OrderItem", created.ID, nil, created)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order item added", "order_id", orderID, "order_item_id", created.ID, "item_id", created.ItemID)
	return &created, nil
}

// RemoveItem deletes a line from a PENDING order. The item must belong to
// orderID.
func (s *Service) RemoveItem(ctx context.Context, orderID, orderItemID, actorID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.guard.WithTx(tx).CheckBelongsToOrder(ctx, orderItemID, orderID)
		if err != nil {
			return err
		}
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.CanEditItems() {
			return apperr.Precondition("order %s is %s; items can only be removed while PENDING", order.Number(), order.Status)
		}
		if err := tx.Where("order_item_id = ?", item.ID).Delete(&models.PrintQueueEntry{}).Error; err != nil {
			return apperr.FromStore(err, "print queue entry")
		}
		if err := tx.Where("order_item_id = ?", item.ID).Delete(&models.ItemProcessingLog{}).Error; err != nil {
			return apperr.FromStore(err, "processing logs")
		}
		if err := tx.Delete(&models.OrderItem{}, item.ID).Error; err != nil {
			return apperr.FromStore(err, "order item")
		}
		if err := RecomputeTotal(tx, order.ID); err != nil {
			return err
		}
		return audit.Record(tx, audit.Actor(actorID), ActionItemRemoved, "OrderItem", item.ID, item, nil)
	})
	if err != nil {
		return err
	}
	s.log.Info("order item removed", "order_id", orderID, "order_item_id", orderItemID)
	return nil
}

// UpdateItem applies a partial update. Moving an item to another order is
// an isolation violation. Quantity, price and catalog item changes require a
// PENDING order; the verified flag may change at any time before shipping.
func (s *Service) UpdateItem(ctx context.Context, orderID, orderItemID uint, upd isolation.OrderItemUpdate, actorID uint) (*models.OrderItem, error) {
	var out models.OrderItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.guard.WithTx(tx).ValidateUpdatePayload(ctx, orderItemID, upd, &orderID)
		if err != nil {
			return err
		}
		if res.Missing {
			return apperr.NotFound("order item %d not found", orderItemID)
		}
		if !res.Valid {
			return res.Err()
		}
		before := *res.OrderItem
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.IsTerminal() {
			return apperr.Precondition("order %s is %s and can no longer change", order.Number(), order.Status)
		}

		changes := map[string]any{}
		lineChange := upd.ItemID != nil || upd.Quantity != nil || upd.PricePerItem != nil || upd.IsProduct != nil
		if lineChange && !order.CanEditItems() {
			return apperr.Precondition("order %s is %s; lines can only change while PENDING", order.Number(), order.Status)
		}
		if upd.ItemID != nil {
			var item models.Item
			if err := tx.First(&item, *upd.ItemID).Error; err != nil {
				return notFound(err, "item %d not found", *upd.ItemID)
			}
			changes["item_id"] = item.ID
		}
		if upd.Quantity != nil {
			if *upd.Quantity <= 0 {
				return apperr.Validation("quantity must be positive")
			}
			changes["quantity"] = *upd.Quantity
		}
		if upd.PricePerItem != nil {
			changes["price_per_item"] = *upd.PricePerItem
		}
		if upd.IsProduct != nil {
			changes["is_product"] = *upd.IsProduct
		}
		if upd.Verified != nil {
			changes["verified"] = *upd.Verified
		}
		if upd.QuickbooksOrderLineID != nil {
			if *upd.QuickbooksOrderLineID == "" {
				changes["quickbooks_order_line_id"] = nil
			} else {
				changes["quickbooks_order_line_id"] = *upd.QuickbooksOrderLineID
			}
		}
		if len(changes) > 0 {
			if err := tx.Model(&models.OrderItem{}).Where("id = ? AND order_id = ?", orderItemID, orderID).Updates(changes).Error; err != nil {
				return apperr.FromStore(err, "order item")
			}
			if err := RecomputeTotal(tx, orderID); err != nil {
				return err
			}
		}
		if err := tx.First(&out, orderItemID).Error; err != nil {
			return apperr.FromStore(err, "order item")
		}
		return audit.Record(tx, audit.Actor(actorID), ActionItemUpdated, "OrderItem", out.ID, before, out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveResult reports what approval queued.
type ApproveResult struct {
	Order    models.Order `json:"order"`
	Enqueued int          `json:"enqueued"`
	Requeued int          `json:"requeued"`
	Skipped  int          `json:"skipped"`
}

// Approve moves a PENDING order to APPROVED and queues labels for its
// verified production items. Approving an APPROVED order again only fills
// the queue; existing unprinted entries are not duplicated.
func (s *Service) Approve(ctx context.Context, orderID, actorID uint) (*ApproveResult, error) {
	var res ApproveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case models.OrderStatusPending:
			now := time.Now()
			if err := tx.Model(order).Updates(map[string]any{"status": models.OrderStatusApproved, "approved_at": now}).Error; err != nil {
				return apperr.FromStore(err, "order")
			}
			if err := audit.Record(tx, audit.Actor(actorID), ActionApproved, "Order", order.ID,
				map[string]any{"status": models.OrderStatusPending}, map[string]any{"status": models.OrderStatusApproved}); err != nil {
				return err
			}
			order.Status, order.ApprovedAt = models.OrderStatusApproved, &now
		case models.OrderStatusApproved:
		default:
			return apperr.Precondition("order %s is %s and cannot be approved", order.Number(), order.Status)
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", order.ID).Order("id").Find(&items).Error; err != nil {
			return apperr.FromStore(err, "order items")
		}
		for _, it := range items {
			if !it.IsProduct || !it.Verified {
				res.Skipped++
				continue
			}
			_, outcome, err := s.queue.EnqueueTx(tx, it.ID, actorID)
			if err != nil {
				return err
			}
			switch outcome {
			case printqueue.OutcomeCreated:
				res.Enqueued++
			case printqueue.OutcomeRequeued:
				res.Requeued++
			}
		}
		res.Order = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order approved", "order_id", orderID, "enqueued", res.Enqueued, "requeued", res.Requeued, "actor_id", actorID)
	return &res, nil
}

// Cancel cancels an order that has not shipped. Unprinted labels are
// dropped.
func (s *Service) Cancel(ctx context.Context, orderID, actorID uint) (*models.Order, error) {
	var out models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := CancelTx(tx, order, actorID); err != nil {
			return err
		}
		out = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order cancelled", "order_id", orderID, "actor_id", actorID)
	return &out, nil
}

// CancelTx cancels order inside tx.
func CancelTx(tx *gorm.DB, order *models.Order, actorID uint) error {
	switch order.Status {
	case models.OrderStatusCancelled:
		return nil
	case models.OrderStatusShipped, models.OrderStatusCompleted, models.OrderStatusArchived:
		return apperr.Precondition("order %s is %s and cannot be cancelled", order.Number(), order.Status)
	}
	from := order.Status
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", models.OrderStatusCancelled).Error; err != nil {
		return apperr.FromStore(err, "order")
	}
	sub := tx.Model(&models.OrderItem{}).Select("id").Where("order_id = ?", order.ID)
	if err := tx.Where("order_item_id IN (?) AND is_printed = ?", sub, false).Delete(&models.PrintQueueEntry{}).Error; err != nil {
		return apperr.FromStore(err, "print queue")
	}
	order.Status = models.OrderStatusCancelled
	return audit.Record(tx, audit.Actor(actorID), ActionCancelled, "Order", order.ID,
		map[string]any{"status": from}, map[string]any{"status": models.OrderStatusCancelled})
}

func lockOrder(tx *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error; err != nil {
		return nil, notFound(err, "order %d not found", id)
	}
	return &order, nil
}

// RecomputeTotal stores the sum of the order's line totals.
func RecomputeTotal(tx *gorm.DB, orderID uint) error {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return apperr.FromStore(err, "order items")
	}
	o := models.Order{Items: items}
	if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Update("total_amount", o.ComputeTotal()).Error; err != nil {
		return apperr.FromStore(err, "order")
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal(err, format, args...)
}
