package gate

import "context"

// HybridGate combines profile permissions with resource policies:
//  1. the user must be non-zero
//  2. the user's profile must grant resource:action
//  3. when a resource is given and a policy is registered, the policy must allow it
type HybridGate[U comparable] struct {
	resolver ProfileResolver[U]
	policies map[string]Policy[U]
}

// NewHybridGate creates a gate backed by resolver.
func NewHybridGate[U comparable](resolver ProfileResolver[U]) *HybridGate[U] {
	return &HybridGate[U]{resolver: resolver, policies: make(map[string]Policy[U])}
}

// Register sets the policy for a resource type, replacing any existing one.
func (g *HybridGate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns ErrUnauthorized for an anonymous user and ErrForbidden
// when the profile or the resource policy denies the action.
func (g *HybridGate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	var zero U
	if user == zero {
		return ErrUnauthorized
	}
	if !g.CanProfile(ctx, user, action, resourceType) {
		return ErrForbidden
	}
	if resource != nil {
		if policy, ok := g.policies[resourceType]; ok && !policy.Can(ctx, user, action, resource) {
			return ErrForbidden
		}
	}
	return nil
}

// Can is Authorize as a bool.
func (g *HybridGate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}

// CanProfile checks only the profile permission.
func (g *HybridGate[U]) CanProfile(ctx context.Context, user U, action Action, resourceType string) bool {
	var zero U
	if user == zero {
		return false
	}
	profile, err := g.resolver.Resolve(ctx, user)
	if err != nil || profile == nil {
		return false
	}
	return profile.HasPermission(NewPermission(resourceType, action))
}
