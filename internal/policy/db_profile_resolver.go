package policy

import (
	"context"
	"errors"

	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/policy/gate"
	"gorm.io/gorm"
)

// DBProfileResolver loads a user's profile and permissions with gorm.
type DBProfileResolver struct {
	DB *gorm.DB
}

func NewDBProfileResolver(db *gorm.DB) *DBProfileResolver {
	return &DBProfileResolver{DB: db}
}

// Resolve returns nil for unknown users, inactive users and users without a
// profile.
func (r *DBProfileResolver) Resolve(ctx context.Context, userID uint) (gate.Profile, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Preload("Profile.Permissions").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Status == models.RecordStatusInactive || user.Profile == nil {
		return nil, nil
	}
	return &dbProfile{profile: user.Profile}, nil
}

type dbProfile struct {
	profile *models.Profile
}

func (a *dbProfile) ID() uint     { return a.profile.ID }
func (a *dbProfile) Name() string { return a.profile.Name }

func (a *dbProfile) HasPermission(perm gate.Permission) bool {
	for _, p := range a.profile.Permissions {
		if gate.Permission(p.Code()).Matches(perm) {
			return true
		}
	}
	return false
}

func (a *dbProfile) Permissions() []gate.Permission {
	out := make([]gate.Permission, len(a.profile.Permissions))
	for i, p := range a.profile.Permissions {
		out[i] = gate.Permission(p.Code())
	}
	return out
}
