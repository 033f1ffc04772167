// Package policy wires the gate package to the database: user profiles are
// loaded with gorm and cached, and resource policies encode order rules.
package policy

import (
	"context"
	"net/http"
	"time"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/Kodeloom/spacovers-admin/internal/policy/gate"
	"gorm.io/gorm"
)

// Resource types used in permissions.
const (
	ResourceOrder      = "order"
	ResourceOrderItem  = "order_item"
	ResourcePrintQueue = "print_queue"
	ResourceQuickbooks = "quickbooks"
	ResourceIsolation  = "isolation"
	ResourceLogs       = "logs"
)

// AuthGate is the application's authorization checkpoint.
type AuthGate struct {
	Gate          *gate.HybridGate[uint]
	CacheResolver *gate.CachedResolver[uint]
}

// NewAuthGate builds a gate over the database profile resolver, caching
// profiles for cacheTTL, with the order policy registered.
func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver[uint](NewDBProfileResolver(db), cacheTTL)
	return newAuthGate(cached)
}

// NewStaticAuthGate builds a gate over an in-memory resolver.
func NewStaticAuthGate(resolver gate.ProfileResolver[uint]) *AuthGate {
	return newAuthGate(gate.NewCachedResolver[uint](resolver, time.Minute))
}

func newAuthGate(cached *gate.CachedResolver[uint]) *AuthGate {
	g := gate.NewHybridGate[uint](cached)
	g.Register(ResourceOrder, NewOrderPolicy())
	return &AuthGate{Gate: g, CacheResolver: cached}
}

// Authorize checks the user in ctx against resourceType:action and the
// resource policy. It returns an apperr Authentication or Forbidden error.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, _ := auth.UserIDFromContext(ctx)
	switch err := ag.Gate.Authorize(ctx, userID, action, resourceType, resource); err {
	case nil:
		return nil
	case gate.ErrUnauthorized:
		return apperr.Authentication("sign in required")
	default:
		return apperr.Forbidden("not allowed to %s %s", action, resourceType)
	}
}

// CanProfile checks only profile permissions.
func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resourceType string) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.CanProfile(ctx, userID, action, resourceType)
}

// InvalidateUser clears the cache for one user.
func (ag *AuthGate) InvalidateUser(userID uint) { ag.CacheResolver.Invalidate(userID) }

// InvalidateAll clears the profile cache.
func (ag *AuthGate) InvalidateAll() { ag.CacheResolver.InvalidateAll() }

// RequirePermission returns middleware that rejects requests whose user
// lacks resourceType:action.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ag.Authorize(r.Context(), action, resourceType, nil); err != nil {
				httpx.Error(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns middleware that only allows profiles holding "*:*".
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.Error(w, apperr.Authentication("sign in required"))
				return
			}
			profile, err := ag.CacheResolver.Resolve(r.Context(), userID)
			if err != nil || profile == nil || !profile.HasPermission(gate.PermissionSuperAdmin) {
				httpx.Error(w, apperr.Forbidden("administrator access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
