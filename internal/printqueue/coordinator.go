// Package printqueue manages label jobs for approved production items.
package printqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/audit"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StandardBatchSize is the number of labels on one sheet.
const StandardBatchSize = 4

// Outcome describes what Enqueue did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeUnchanged Outcome = "unchanged"
)

// Coordinator owns the print_queue table.
type Coordinator struct {
	db        *gorm.DB
	log       *slog.Logger
	batchSize int
	now       func() time.Time
}

// NewCoordinator creates a coordinator. A batchSize below 1 means the
// standard size.
func NewCoordinator(db *gorm.DB, batchSize int, log *slog.Logger) *Coordinator {
	if batchSize < 1 {
		batchSize = StandardBatchSize
	}
	return &Coordinator{
		db:        db,
		log:       logging.OrDiscard(log).With("component", "printqueue"),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Enqueue queues a label for the order item. An unprinted entry is left as
// is and a printed one is reset, so an item never has two entries.
func (c *Coordinator) Enqueue(ctx context.Context, orderItemID, actorID uint) (*models.PrintQueueEntry, Outcome, error) {
	var (
		entry   *models.PrintQueueEntry
		outcome Outcome
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, outcome, err = c.EnqueueTx(tx, orderItemID, actorID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	c.log.Info("label enqueued", "order_item_id", orderItemID, "outcome", outcome, "actor_id", actorID)
	return entry, outcome, nil
}

// EnqueueTx is Enqueue inside the caller's transaction.
func (c *Coordinator) EnqueueTx(tx *gorm.DB, orderItemID, actorID uint) (*models.PrintQueueEntry, Outcome, error) {
	var item models.OrderItem
	if err := tx.First(&item, orderItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", apperr.NotFound("order item %d not found", orderItemID)
		}
		return nil, "", apperr.FromStore(err, "order item")
	}

	var entry models.PrintQueueEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_item_id = ?", orderItemID).First(&entry).Error
	switch {
	case err == nil:
		if !entry.IsPrinted {
			return &entry, OutcomeUnchanged, nil
		}
		now := c.now()
		err := tx.Model(&entry).Updates(map[string]any{
			"is_printed": false,
			"printed_at": nil,
			"printed_by": nil,
			"added_at":   now,
			"added_by":   audit.Actor(actorID),
		}).Error
		if err != nil {
			return nil, "", apperr.FromStore(err, "print queue entry")
		}
		entry.IsPrinted, entry.PrintedAt, entry.PrintedBy = false, nil, nil
		entry.AddedAt, entry.AddedBy = now, audit.Actor(actorID)
		return &entry, OutcomeRequeued, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = models.PrintQueueEntry{
			OrderItemID: orderItemID,
			AddedAt:     c.now(),
			AddedBy:     audit.Actor(actorID),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return nil, "", apperr.FromStore(err, "print queue entry")
		}
		return &entry, OutcomeCreated, nil
	default:
		return nil, "", apperr.FromStore(err, "print queue entry")
	}
}

// Failure is one id that could not be processed in a batch.
type Failure struct {
	ID      uint        `json:"id"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// BatchResult reports each id of a batch operation.
type BatchResult struct {
	Succeeded []uint    `json:"succeeded"`
	Failures  []Failure `json:"failures"`
}

// MarkPrinted marks each entry printed. A missing or already printed entry
// is reported in Failures without stopping the rest.
func (c *Coordinator) MarkPrinted(ctx context.Context, ids []uint, actorID uint) BatchResult {
	res := BatchResult{Succeeded: []uint{}, Failures: []Failure{}}
	for _, id := range ids {
		if err := c.markOne(ctx, id, actorID); err != nil {
			res.Failures = append(res.Failures, Failure{ID: id, Kind: apperr.KindOf(err), Message: messageOf(err)})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	if len(res.Failures) > 0 {
		c.log.Warn("some labels could not be marked printed", "failed", len(res.Failures), "succeeded", len(res.Succeeded))
	}
	c.log.Info("labels marked printed", "count", len(res.Succeeded), "actor_id", actorID)
	return res
}

func (c *Coordinator) markOne(ctx context.Context, id, actorID uint) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.PrintQueueEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("print queue entry %d not found", id)
			}
			return apperr.FromStore(err, "print queue entry")
		}
		if entry.IsPrinted {
			return apperr.Conflict("print queue entry %d is already printed", id)
		}
		now := c.now()
		return apperr.FromStore(tx.Model(&entry).Updates(map[string]any{
			"is_printed": true,
			"printed_at": now,
			"printed_by": audit.Actor(actorID),
		}).Error, "print queue entry")
	})
}

// SetPrinted sets the printed flag of one entry.
func (c *Coordinator) SetPrinted(ctx context.Context, id uint, printed bool, actorID uint) (*models.PrintQueueEntry, error) {
	var entry models.PrintQueueEntry
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("print queue entry %d not found", id)
			}
			return apperr.FromStore(err, "print queue entry")
		}
		if entry.IsPrinted == printed {
			return nil
		}
		upd := map[string]any{"is_printed": printed, "printed_at": nil, "printed_by": nil}
		if printed {
			now := c.now()
			upd["printed_at"] = now
			upd["printed_by"] = audit.Actor(actorID)
		}
		if err := tx.Model(&entry).Updates(upd).Error; err != nil {
			return apperr.FromStore(err, "print queue entry")
		}
		return tx.First(&entry, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Pending returns unprinted entries, oldest first. limit <= 0 means all.
func (c *Coordinator) Pending(ctx context.Context, limit int) ([]models.PrintQueueEntry, error) {
	var entries []models.PrintQueueEntry
	q := c.db.WithContext(ctx).
		Preload("OrderItem.Item").
		Preload("OrderItem.Order.Customer").
		Where("is_printed = ?", false).
		Order("added_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, apperr.FromStore(err, "print queue")
	}
	return entries, nil
}

// Batch is the next set of labels to print.
type Batch struct {
	Entries      []models.PrintQueueEntry `json:"entries"`
	StandardSize int                      `json:"standardSize"`
	Remaining    int64                    `json:"remaining"`
	Warning      string                   `json:"warning,omitempty"`
}

// NextBatch returns up to one standard batch of the oldest entries. A short
// batch carries a warning; it is never an error.
func (c *Coordinator) NextBatch(ctx context.Context) (*Batch, error) {
	entries, err := c.Pending(ctx, c.batchSize)
	if err != nil {
		return nil, err
	}
	var total int64
	if err := c.db.WithContext(ctx).Model(&models.PrintQueueEntry{}).Where("is_printed = ?", false).Count(&total).Error; err != nil {
		return nil, apperr.FromStore(err, "print queue")
	}
	b := &Batch{Entries: entries, StandardSize: c.batchSize, Remaining: total - int64(len(entries))}
	if len(entries) < c.batchSize {
		b.Warning = fmt.Sprintf("only %d of %d labels are ready; wait for more or print anyway", len(entries), c.batchSize)
	}
	return b, nil
}

// Remove deletes an entry.
func (c *Coordinator) Remove(ctx context.Context, id uint) error {
	res := c.db.WithContext(ctx).Delete(&models.PrintQueueEntry{}, id)
	if res.Error != nil {
		return apperr.FromStore(res.Error, "print queue entry")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("print queue entry %d not found", id)
	}
	c.log.Info("label removed from queue", "id", id)
	return nil
}

func messageOf(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
