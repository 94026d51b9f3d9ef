package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/capability/policy"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

func TestAuthorizer_DeniesWithNoPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)
	authz := NewAuthorizer(engine)

	err = authz.Authorize(ctx, domain.Principal{OrgID: "acme", AgentID: "agent-1"}, domain.CategoryWorkaround)
	assert.ErrorIs(t, err, herrors.ErrForbidden)
}

func TestAuthorizer_AllowsDirectCategoryPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)
	require.NoError(t, engine.AddPolicy(ctx, "contributor", "acme", "category:workaround", "contribute"))
	require.NoError(t, engine.AssignRole(ctx, "agent-1", "contributor", "acme"))
	authz := NewAuthorizer(engine)

	err = authz.Authorize(ctx, domain.Principal{OrgID: "acme", AgentID: "agent-1"}, domain.CategoryWorkaround)
	assert.NoError(t, err)
}

func TestAuthorizer_AdminGateAllowsAnyCategory(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)
	require.NoError(t, engine.AddPolicy(ctx, "admin", "acme", "namespace:acme", "*"))
	require.NoError(t, engine.AssignRole(ctx, "agent-1", "admin", "acme"))
	authz := NewAuthorizer(engine)

	err = authz.Authorize(ctx, domain.Principal{OrgID: "acme", AgentID: "agent-1"}, domain.CategoryArchitecture)
	assert.NoError(t, err)
}

func TestAuthorizer_ItemCrossTenantIsForbidden(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)
	require.NoError(t, engine.AddPolicy(ctx, "admin", "acme", "namespace:acme", "*"))
	require.NoError(t, engine.AssignRole(ctx, "agent-1", "admin", "acme"))
	authz := NewAuthorizer(engine)

	err = authz.AuthorizeItem(ctx, domain.Principal{OrgID: "acme", AgentID: "agent-1"}, "globex", "item-1", "delete")
	assert.ErrorIs(t, err, herrors.ErrForbidden)
}

func TestAuthorizer_ItemSameTenantWithRoleAllowed(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx)
	require.NoError(t, err)
	require.NoError(t, engine.AddPolicy(ctx, "editor", "acme", "item:item-1", "delete"))
	require.NoError(t, engine.AssignRole(ctx, "agent-1", "editor", "acme"))
	authz := NewAuthorizer(engine)

	err = authz.AuthorizeItem(ctx, domain.Principal{OrgID: "acme", AgentID: "agent-1"}, "acme", "item-1", "delete")
	assert.NoError(t, err)
}
