package access

import (
	"context"
	"fmt"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// objectAction names the (object, action) pair a privileged operation
// maps onto, per spec.md §4.1's (subject=agent_id, domain=org_id,
// object, action) tuple.
type objectAction struct {
	object string
	action string
}

// Authorizer asks a capability.PolicyEngine whether a principal may
// perform an operation, using the admin-gate wildcard convention:
// a policy granting action "*" on "namespace:<org_id>" authorizes
// anything within that org.
type Authorizer struct {
	Engine capability.PolicyEngine
}

// NewAuthorizer wires an Authorizer over the given policy engine.
func NewAuthorizer(engine capability.PolicyEngine) *Authorizer {
	return &Authorizer{Engine: engine}
}

// Authorize checks whether principal may contribute knowledge in
// category within its own org. Contribution is always same-tenant, so
// cross-tenant denial (§4.1's existence-oracle guard) only applies to
// AuthorizeItem.
func (a *Authorizer) Authorize(ctx context.Context, principal domain.Principal, category domain.Category) error {
	return a.enforce(ctx, principal, fmt.Sprintf("category:%s", category), "contribute")
}

// AuthorizeItem checks whether principal may perform action against a
// specific knowledge item it owns. Cross-tenant access to another
// org's private item is denied identically to a non-existent item
// (the caller must translate herrors.ErrForbidden to the same
// response shape as herrors.ErrNotFound).
func (a *Authorizer) AuthorizeItem(ctx context.Context, principal domain.Principal, itemOrgID, itemID, action string) error {
	if itemOrgID != principal.OrgID {
		return herrors.ErrForbidden
	}
	return a.enforce(ctx, principal, fmt.Sprintf("item:%s", itemID), action)
}

func (a *Authorizer) enforce(ctx context.Context, principal domain.Principal, object, action string) error {
	allowed, err := a.Engine.Enforce(ctx, principal.AgentID, principal.OrgID, object, action)
	if err != nil {
		return fmt.Errorf("access: enforce: %w", err)
	}
	if allowed {
		return nil
	}

	// The admin gate: a role holding "*" on the org's own namespace
	// object authorizes any action within it.
	allowed, err = a.Engine.Enforce(ctx, principal.AgentID, principal.OrgID, fmt.Sprintf("namespace:%s", principal.OrgID), "*")
	if err != nil {
		return fmt.Errorf("access: enforce admin gate: %w", err)
	}
	if !allowed {
		return herrors.ErrForbidden
	}
	return nil
}
