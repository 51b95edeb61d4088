package rbac

import (
	"context"

	"github.com/platinummonkey/tasktrax/pkg/contextkeys"
)

// RuleSource supplies the currently loaded rules. Implementations must not
// block; an empty result means "not loaded yet" or "no rules stored".
type RuleSource interface {
	Rules() []PermissionRule
}

// StaticRules is a fixed RuleSource
type StaticRules []PermissionRule

// Rules implements RuleSource
func (s StaticRules) Rules() []PermissionRule { return s }

// Fallback is the decision used when no rule exists for an action:
// Admin and Manager are allowed, everyone else is not.
func Fallback(role Role) bool {
	return role.Privileged()
}

// Decide resolves whether role may perform action under rules.
//
// Resolution order:
//  1. Admin may always Manage Settings, whatever the rules say, so an admin
//     can never lock themselves out of the permissions screen.
//  2. The first rule for action decides, for Admin, Manager and Member.
//  3. Otherwise Fallback.
func Decide(rules []PermissionRule, role Role, action Action) bool {
	if role.Key() == "admin" && action == ActionManageSettings {
		return true
	}
	if rule, ok := FindRule(rules, action); ok {
		if allowed, known := rule.Allowed(role); known {
			return allowed
		}
	}
	return Fallback(role)
}

// Resolver answers permission questions from an injected RuleSource
type Resolver struct {
	source RuleSource
}

// NewResolver creates a resolver; a nil source resolves everything by fallback
func NewResolver(source RuleSource) *Resolver {
	return &Resolver{source: source}
}

// Can reports whether role may perform action. It never blocks and never
// fails; before the first rule load it answers with the fallback.
func (r *Resolver) Can(role Role, action Action) bool {
	var rules []PermissionRule
	if r != nil && r.source != nil {
		rules = r.source.Rules()
	}
	return Decide(rules, role, action)
}

// Capabilities evaluates every known action for role
func (r *Resolver) Capabilities(role Role) map[Action]bool {
	caps := make(map[Action]bool, len(AllActions()))
	for _, a := range AllActions() {
		caps[a] = r.Can(role, a)
	}
	return caps
}

// Principal is an authenticated caller. users.User implements it.
type Principal interface {
	PrincipalID() string
	PrincipalName() string
	PrincipalRole() Role
}

// PrincipalFromContext returns the authenticated caller stored by the API
// authentication middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := contextkeys.GetUser(ctx).(Principal)
	return p, ok && p != nil
}
