package policy

import (
	"context"
	"time"

	"github.com/dhawalhost/riskgate/internal/risk"
	"github.com/dhawalhost/riskgate/internal/token"
)

// Permissions is the coarse capability set used for UI-level gating.
type Permissions struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
}

// Resolver derives a {read, write, delete} capability set for a principal
// against a resource class. Low-sensitivity resources take a cheap
// role-membership path so UI renders do not cost three risk computations;
// medium and high sensitivity always go through the full decision point.
type Resolver struct {
	pdp      *PDP
	registry *Registry
	now      func() time.Time
}

// NewResolver creates a permission resolver backed by the decision point.
func NewResolver(pdp *PDP, registry *Registry) *Resolver {
	return &Resolver{pdp: pdp, registry: registry, now: time.Now}
}

// Resolve computes the capability set. Any failure, including an unknown
// resource class, defaults every flag to false.
func (r *Resolver) Resolve(ctx context.Context, id token.Identity, resourceClass string, rctx risk.Context) Permissions {
	pol, ok := r.registry.Lookup(resourceClass)
	if !ok {
		return Permissions{}
	}

	if pol.Sensitivity == SensitivityLow {
		// Cheap path: expiry plus role membership, no risk computation.
		if id.Subject == "" || id.Expired(r.now()) {
			return Permissions{}
		}
		allowed := len(pol.RequiredRoles) == 0 || id.HasAnyRole(pol.RequiredRoles)
		return Permissions{Read: allowed, Write: allowed, Delete: allowed}
	}

	return Permissions{
		Read:   r.pdp.Decide(ctx, id, "read", resourceClass, rctx).Allowed,
		Write:  r.pdp.Decide(ctx, id, "write", resourceClass, rctx).Allowed,
		Delete: r.pdp.Decide(ctx, id, "delete", resourceClass, rctx).Allowed,
	}
}
