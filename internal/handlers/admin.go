package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/audit"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
	"github.com/Kodeloom/spacovers-admin/internal/policy"
	"gorm.io/gorm"
)

// AdminHandler manages profiles, their permissions and user assignments,
// and exposes recent log records.
type AdminHandler struct {
	DB   *gorm.DB
	Gate *policy.AuthGate // cache invalidated on changes
	Ring *logging.Ring
}

func NewAdminHandler(db *gorm.DB, gate *policy.AuthGate, ring *logging.Ring) *AdminHandler {
	return &AdminHandler{DB: db, Gate: gate, Ring: ring}
}

// ListProfiles handles GET /api/admin/profiles.
func (h *AdminHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	var profiles []models.Profile
	if err := h.DB.WithContext(r.Context()).Preload("Permissions").Order("name").Find(&profiles).Error; err != nil {
		httpx.Error(w, apperr.FromStore(err, "profiles"))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

// ListPermissions handles GET /api/admin/permissions.
func (h *AdminHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	var perms []models.Permission
	if err := h.DB.WithContext(r.Context()).Order("resource_type, action").Find(&perms).Error; err != nil {
		httpx.Error(w, apperr.FromStore(err, "permissions"))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type profileRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateProfile handles POST /api/admin/profiles.
func (h *AdminHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	profile := models.Profile{Name: strings.TrimSpace(req.Name), Description: strings.TrimSpace(req.Description)}
	if profile.Name == "" {
		httpx.Error(w, httpx.Violations(map[string]string{"name": "required"}))
		return
	}
	if err := h.DB.WithContext(r.Context()).Create(&profile).Error; err != nil {
		httpx.Error(w, apperr.FromStore(err, "profile"))
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

// DeleteProfile handles DELETE /api/admin/profiles/{id}. System profiles and
// profiles still assigned to users are kept.
func (h *AdminHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var profile models.Profile
	if err := h.DB.WithContext(r.Context()).First(&profile, id).Error; err != nil {
		httpx.Error(w, notFoundOr(err, "profile %d not found", id))
		return
	}
	if profile.IsSystem {
		httpx.Error(w, apperr.Forbidden("profile %s is a system profile", profile.Name))
		return
	}
	var users int64
	if err := h.DB.WithContext(r.Context()).Model(&models.User{}).Where("profile_id = ?", id).Count(&users).Error; err != nil {
		httpx.Error(w, apperr.FromStore(err, "users"))
		return
	}
	if users > 0 {
		httpx.Error(w, apperr.Conflict("profile %s is assigned to %d users", profile.Name, users))
		return
	}
	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&profile).Association("Permissions").Clear(); err != nil {
			return err
		}
		return tx.Delete(&profile).Error
	})
	if err != nil {
		httpx.Error(w, apperr.FromStore(err, "profile"))
		return
	}
	h.Gate.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"` // "resource:action" codes
}

// SetPermissions handles PUT /api/admin/profiles/{id}/permissions, replacing
// the profile's grants.
func (h *AdminHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	ctx := r.Context()
	var profile models.Profile
	if err := h.DB.WithContext(ctx).First(&profile, id).Error; err != nil {
		httpx.Error(w, notFoundOr(err, "profile %d not found", id))
		return
	}

	perms := make([]models.Permission, 0, len(req.Permissions))
	unknown := map[string]string{}
	for _, code := range req.Permissions {
		resource, action, ok := strings.Cut(code, ":")
		var p models.Permission
		if !ok || h.DB.WithContext(ctx).Where("resource_type = ? AND action = ?", resource, action).First(&p).Error != nil {
			unknown[code] = "unknown_permission"
			continue
		}
		perms = append(perms, p)
	}
	if len(unknown) > 0 {
		httpx.Error(w, httpx.Violations(unknown))
		return
	}

	actor, _ := auth.UserIDFromContext(ctx)
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
		return audit.Record(tx, audit.Actor(actor), "PROFILE_PERMISSIONS_CHANGED", "Profile", profile.ID, nil, req.Permissions)
	})
	if err != nil {
		httpx.Error(w, apperr.FromStore(err, "profile"))
		return
	}
	h.Gate.InvalidateAll()
	profile.Permissions = perms
	httpx.JSON(w, http.StatusOK, profile)
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := h.DB.WithContext(r.Context()).Preload("Profile").Order("email").Find(&users).Error; err != nil {
		httpx.Error(w, apperr.FromStore(err, "users"))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

type assignRequest struct {
	ProfileID *uint `json:"profileId"`
}

// AssignProfile handles PUT /api/admin/users/{id}/profile. A null profileId
// removes the profile.
func (h *AdminHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	ctx := r.Context()
	if req.ProfileID != nil {
		var p models.Profile
		if err := h.DB.WithContext(ctx).First(&p, *req.ProfileID).Error; err != nil {
			httpx.Error(w, notFoundOr(err, "profile %d not found", *req.ProfileID))
			return
		}
	}

	actor, _ := auth.UserIDFromContext(ctx)
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return notFoundOr(err, "user %d not found", userID)
		}
		if err := tx.Model(&user).Update("profile_id", req.ProfileID).Error; err != nil {
			return apperr.FromStore(err, "user")
		}
		return audit.Record(tx, audit.Actor(actor), "USER_PROFILE_ASSIGNED", "User", user.ID,
			map[string]any{"profileId": user.ProfileID}, map[string]any{"profileId": req.ProfileID})
	})
	if err != nil {
		httpx.Error(w, err)
		return
	}
	h.Gate.InvalidateUser(userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": userID, "profileId": req.ProfileID})
}

// RecentLogs handles GET /api/admin/logs/recent?limit=N, newest last.
func (h *AdminHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	if h.Ring == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": []logging.Entry{}})
		return
	}
	entries := h.Ring.Recent()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.FromStore(err, "record")
}
