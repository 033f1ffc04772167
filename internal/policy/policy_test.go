package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/policy"
	"github.com/Kodeloom/spacovers-admin/internal/policy/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func userWithProfile(t *testing.T, d *gorm.DB, email, profile string) models.User {
	t.Helper()
	var p models.Profile
	require.NoError(t, d.Where("name = ?", profile).First(&p).Error)
	u := models.User{Email: email, Status: models.RecordStatusActive, ProfileID: &p.ID}
	require.NoError(t, d.Create(&u).Error)
	return u
}

func TestAuthGate_SeededProfiles(t *testing.T) {
	d := dbtest.Open(t)
	worker := userWithProfile(t, d, "worker@example.com", "warehouse")
	office := userWithProfile(t, d, "office@example.com", "office")
	admin := userWithProfile(t, d, "admin@example.com", "admin")

	ag := policy.NewAuthGate(d, time.Minute)
	ctx := context.Background()

	tests := []struct {
		user     uint
		action   gate.Action
		resource string
		allowed  bool
	}{
		{worker.ID, gate.ActionScan, policy.ResourceOrderItem, true},
		{worker.ID, gate.ActionOverride, policy.ResourceOrderItem, false},
		{worker.ID, gate.ActionManage, policy.ResourceQuickbooks, false},
		{office.ID, gate.ActionOverride, policy.ResourceOrderItem, true},
		{office.ID, gate.ActionApprove, policy.ResourceOrder, true},
		{office.ID, gate.ActionManage, policy.ResourceQuickbooks, true},
		{office.ID, gate.ActionView, policy.ResourceLogs, false},
		{admin.ID, gate.ActionView, policy.ResourceLogs, true},
	}
	for _, tt := range tests {
		err := ag.Authorize(auth.WithUserID(ctx, tt.user), tt.action, tt.resource, nil)
		if tt.allowed {
			assert.NoError(t, err, "user %d %s:%s", tt.user, tt.resource, tt.action)
		} else {
			assert.True(t, apperr.Is(err, apperr.KindForbidden), "user %d %s:%s: %v", tt.user, tt.resource, tt.action, err)
		}
	}

	err := ag.Authorize(ctx, gate.ActionView, policy.ResourceOrder, nil)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestAuthGate_InactiveUserHasNoPermissions(t *testing.T) {
	d := dbtest.Open(t)
	u := userWithProfile(t, d, "gone@example.com", "admin")
	require.NoError(t, d.Model(&u).Update("status", models.RecordStatusInactive).Error)

	ag := policy.NewAuthGate(d, time.Minute)
	err := ag.Authorize(auth.WithUserID(context.Background(), u.ID), gate.ActionView, policy.ResourceOrder, nil)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestOrderPolicy(t *testing.T) {
	p := policy.NewOrderPolicy()
	ctx := context.Background()

	open := &models.Order{Status: models.OrderStatusApproved}
	closed := &models.Order{Status: models.OrderStatusCancelled}

	assert.True(t, p.Can(ctx, 1, gate.ActionUpdate, open))
	assert.False(t, p.Can(ctx, 1, gate.ActionUpdate, closed))
	assert.False(t, p.Can(ctx, 1, gate.ActionApprove, models.Order{Status: models.OrderStatusArchived}))
	assert.True(t, p.Can(ctx, 1, gate.ActionView, closed))
	assert.False(t, p.Can(ctx, 1, gate.ActionUpdate, "not an order"))
}

func TestAuthGate_TerminalOrderDenied(t *testing.T) {
	resolver := gate.NewStaticResolver[uint]()
	resolver.Set(1, gate.NewStaticProfile(1, "admin", gate.PermissionSuperAdmin))
	ag := policy.NewStaticAuthGate(resolver)
	ctx := auth.WithUserID(context.Background(), 1)

	err := ag.Authorize(ctx, gate.ActionUpdate, policy.ResourceOrder, &models.Order{Status: models.OrderStatusCompleted})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.NoError(t, ag.Authorize(ctx, gate.ActionUpdate, policy.ResourceOrder, &models.Order{Status: models.OrderStatusPending}))
}
