package printqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/models"
)

func entryCount(t *testing.T, d *gorm.DB, orderItemID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, d.Model(&models.PrintQueueEntry{}).Where("order_item_id = ?", orderItemID).Count(&n).Error)
	return n
}

func TestEnqueue_Idempotent(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
	c := NewCoordinator(d, 0, nil)
	ctx := context.Background()

	first, outcome, err := c.Enqueue(ctx, item.ID, f.User.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	second, outcome, err := c.Enqueue(ctx, item.ID, f.User.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 1, entryCount(t, d, item.ID))
}

func TestEnqueue_ResetsPrintedEntry(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
	c := NewCoordinator(d, 0, nil)
	ctx := context.Background()

	entry, _, err := c.Enqueue(ctx, item.ID, f.User.ID)
	require.NoError(t, err)
	res := c.MarkPrinted(ctx, []uint{entry.ID}, f.User.ID)
	require.Empty(t, res.Failures)

	again, outcome, err := c.Enqueue(ctx, item.ID, f.User.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, outcome)
	assert.Equal(t, entry.ID, again.ID)
	assert.False(t, again.IsPrinted)
	assert.EqualValues(t, 1, entryCount(t, d, item.ID))

	var stored models.PrintQueueEntry
	require.NoError(t, d.First(&stored, entry.ID).Error)
	assert.False(t, stored.IsPrinted)
	assert.Nil(t, stored.PrintedAt)
}

func TestEnqueue_UnknownItem(t *testing.T) {
	d := dbtest.Open(t)
	_, _, err := NewCoordinator(d, 0, nil).Enqueue(context.Background(), 777, 0)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMarkPrinted_PartialFailure(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	c := NewCoordinator(d, 0, nil)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
		e, _, err := c.Enqueue(ctx, item.ID, f.User.ID)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	first := c.MarkPrinted(ctx, ids[:1], f.User.ID)
	require.Equal(t, []uint{ids[0]}, first.Succeeded)

	res := c.MarkPrinted(ctx, []uint{ids[0], 9999, ids[1], ids[2]}, f.User.ID)
	assert.Equal(t, []uint{ids[1], ids[2]}, res.Succeeded)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, ids[0], res.Failures[0].ID)
	assert.Equal(t, apperr.KindConflict, res.Failures[0].Kind)
	assert.EqualValues(t, 9999, res.Failures[1].ID)
	assert.Equal(t, apperr.KindNotFound, res.Failures[1].Kind)

	var stored models.PrintQueueEntry
	require.NoError(t, d.First(&stored, ids[2]).Error)
	assert.True(t, stored.IsPrinted)
	require.NotNil(t, stored.PrintedBy)
	assert.Equal(t, f.User.ID, *stored.PrintedBy)
}

func TestSetPrinted(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
	c := NewCoordinator(d, 0, nil)
	ctx := context.Background()

	e, _, err := c.Enqueue(ctx, item.ID, 0)
	require.NoError(t, err)

	got, err := c.SetPrinted(ctx, e.ID, true, f.User.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPrinted)
	assert.NotNil(t, got.PrintedAt)

	got, err = c.SetPrinted(ctx, e.ID, false, f.User.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPrinted)
	assert.Nil(t, got.PrintedAt)

	_, err = c.SetPrinted(ctx, 31337, true, 0)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNextBatch(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	c := NewCoordinator(d, 0, nil)
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	var itemIDs []uint
	for i := 0; i < 6; i++ {
		item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
		at := base.Add(time.Duration(i) * time.Minute)
		c.now = func() time.Time { return at }
		_, _, err := c.Enqueue(ctx, item.ID, 0)
		require.NoError(t, err)
		itemIDs = append(itemIDs, item.ID)
	}

	batch, err := c.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Entries, StandardBatchSize)
	assert.Empty(t, batch.Warning)
	assert.EqualValues(t, 2, batch.Remaining)
	for i, e := range batch.Entries {
		assert.Equal(t, itemIDs[i], e.OrderItemID, "oldest first")
		require.NotNil(t, e.OrderItem)
		assert.Equal(t, f.Item.Name, e.OrderItem.Item.Name)
	}

	var ids []uint
	for _, e := range batch.Entries {
		ids = append(ids, e.ID)
	}
	c.MarkPrinted(ctx, ids, 0)

	batch, err = c.NextBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Entries, 2)
	assert.NotEmpty(t, batch.Warning)
	assert.EqualValues(t, 0, batch.Remaining)
}

func TestRemove(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusApproved)
	item := dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "", true)
	c := NewCoordinator(d, 0, nil)
	ctx := context.Background()

	e, _, err := c.Enqueue(ctx, item.ID, 0)
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, e.ID))
	assert.True(t, apperr.Is(c.Remove(ctx, e.ID), apperr.KindNotFound))
	assert.EqualValues(t, 0, entryCount(t, d, item.ID))
}
