package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
)

var settingsRef = docstore.NewRef("settings", "global")

func setupRuleStoreTest(t *testing.T) (*RuleStore, docstore.Store) {
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })
	return NewRuleStore(store, settingsRef, nil), store
}

func TestRuleStore_Empty(t *testing.T) {
	rs, _ := setupRuleStoreTest(t)
	ctx := context.Background()

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	effective, stored, err := rs.EffectiveRules(ctx)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, DefaultRules(), effective)
}

func TestRuleStore_SetRuleMaterializesDefaults(t *testing.T) {
	rs, store := setupRuleStoreTest(t)
	ctx := context.Background()

	_, err := docstore.Set(ctx, store, settingsRef, map[string]interface{}{
		"customFields": map[string]interface{}{"Priority": []interface{}{"Low", "High"}},
	})
	require.NoError(t, err)

	before, after, err := rs.SetRule(ctx, "delete tasks", "manager", true)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.False(t, before.Manager)
	assert.Equal(t, PermissionRule{Permission: ActionDeleteTasks, Admin: true, Manager: true, Member: false}, after)

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, len(DefaultRules()))
	rule, ok := FindRule(rules, ActionDeleteTasks)
	require.True(t, ok)
	assert.True(t, rule.Manager)

	doc, err := store.Get(ctx, settingsRef)
	require.NoError(t, err)
	assert.Contains(t, doc.Data, "customFields", "other settings are preserved")
}

func TestRuleStore_SetRuleCreatesMissingRuleFromFallback(t *testing.T) {
	rs, _ := setupRuleStoreTest(t)
	ctx := context.Background()

	before, after, err := rs.SetRule(ctx, ActionViewFinancials, RoleMember, true)
	require.NoError(t, err)
	assert.Nil(t, before)
	assert.Equal(t, PermissionRule{Permission: ActionViewFinancials, Admin: true, Manager: true, Member: true}, after)

	_, after, err = rs.SetRule(ctx, ActionViewFinancials, RoleManager, false)
	require.NoError(t, err)
	assert.Equal(t, PermissionRule{Permission: ActionViewFinancials, Admin: true, Manager: false, Member: true}, after)

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, len(DefaultRules())+1)
	assert.False(t, Decide(rules, RoleManager, ActionViewFinancials))
	assert.True(t, Decide(rules, RoleMember, ActionViewFinancials))
}

func TestRuleStore_SetRuleValidation(t *testing.T) {
	rs, _ := setupRuleStoreTest(t)
	ctx := context.Background()

	_, _, err := rs.SetRule(ctx, "Teleport", RoleAdmin, true)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, _, err = rs.SetRule(ctx, ActionViewTasks, "Owner", true)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestRuleStore_AdminCannotLockThemselvesOut(t *testing.T) {
	rs, _ := setupRuleStoreTest(t)
	ctx := context.Background()

	_, _, err := rs.SetRule(ctx, ActionManageSettings, RoleAdmin, false)
	require.NoError(t, err)

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	assert.True(t, NewResolver(StaticRules(rules)).Can(RoleAdmin, ActionManageSettings))
}

func TestRuleStore_ReplaceAndReset(t *testing.T) {
	rs, _ := setupRuleStoreTest(t)
	ctx := context.Background()

	err := rs.ReplaceRules(ctx, []PermissionRule{
		{Permission: "view tasks", Admin: true},
		{Permission: ActionCreateTasks, Admin: true, Manager: true},
	})
	require.NoError(t, err)

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, ActionViewTasks, rules[0].Permission)

	err = rs.ReplaceRules(ctx, []PermissionRule{{Permission: ActionViewTasks}, {Permission: "View Tasks"}})
	assert.ErrorIs(t, err, ErrDuplicateRule)

	require.NoError(t, rs.ResetRules(ctx))
	rules, err = rs.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestRuleStore_IgnoresMalformedEntries(t *testing.T) {
	rs, store := setupRuleStoreTest(t)
	ctx := context.Background()

	_, err := docstore.Set(ctx, store, settingsRef, map[string]interface{}{
		"rules": []interface{}{
			"junk",
			map[string]interface{}{"permission": "Delete Tasks", "admin": true, "manager": true, "member": true},
		},
	})
	require.NoError(t, err)

	rules, err := rs.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Member)
}
