package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/domain"
)

func TestEngine_DeniesByDefault(t *testing.T) {
	e, err := NewEngine(context.Background())
	require.NoError(t, err)

	allowed, err := e.Enforce(context.Background(), "agent-1", "org-1", "item:abc", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngine_RoleBasedAllow(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx)
	require.NoError(t, err)

	require.NoError(t, e.AddPolicy(ctx, "viewer", "org-1", "item:abc", "read"))
	require.NoError(t, e.AssignRole(ctx, "agent-1", "viewer", "org-1"))

	allowed, err := e.Enforce(ctx, "agent-1", "org-1", "item:abc", "read")
	require.NoError(t, err)
	assert.True(t, allowed)

	// A different domain is a different RBAC scope.
	allowed, err = e.Enforce(ctx, "agent-1", "org-2", "item:abc", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngine_AdminGateWildcardAction(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx)
	require.NoError(t, err)

	require.NoError(t, e.AddPolicy(ctx, "admin", "org-1", "namespace:org-1", "*"))
	require.NoError(t, e.AssignRole(ctx, "agent-1", "admin", "org-1"))

	allowed, err := e.Enforce(ctx, "agent-1", "org-1", "namespace:org-1", "delete")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEngine_RevokeRoleRemovesAccess(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx)
	require.NoError(t, err)

	require.NoError(t, e.AddPolicy(ctx, "viewer", "org-1", "item:abc", "read"))
	require.NoError(t, e.AssignRole(ctx, "agent-1", "viewer", "org-1"))
	require.NoError(t, e.RevokeRole(ctx, "agent-1", "viewer", "org-1"))

	allowed, err := e.Enforce(ctx, "agent-1", "org-1", "item:abc", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngine_RemovePolicyRemovesAccess(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx)
	require.NoError(t, err)

	require.NoError(t, e.AddPolicy(ctx, "viewer", "org-1", "item:abc", "read"))
	require.NoError(t, e.AssignRole(ctx, "agent-1", "viewer", "org-1"))
	require.NoError(t, e.RemovePolicy(ctx, "viewer", "org-1", "item:abc", "read"))

	allowed, err := e.Enforce(ctx, "agent-1", "org-1", "item:abc", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngine_RestorePoliciesAndRoles(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx)
	require.NoError(t, err)

	require.NoError(t, e.RestorePolicies(ctx, []domain.PolicyTuple{
		{Subject: "viewer", Domain: "org-1", Object: "item:abc", Action: "read"},
	}))
	require.NoError(t, e.RestoreRoles(ctx, []domain.RoleAssignment{
		{Subject: "agent-1", Role: "viewer", Domain: "org-1"},
	}))

	allowed, err := e.Enforce(ctx, "agent-1", "org-1", "item:abc", "read")
	require.NoError(t, err)
	assert.True(t, allowed)
}
