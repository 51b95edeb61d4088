package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRole is returned when a rule write names a role outside Admin/Manager/Member
	ErrUnknownRole = errors.New("unknown role")
	// ErrUnknownAction is returned for a permission name that is not one of AllActions
	ErrUnknownAction = errors.New("unknown action")
	// ErrDuplicateRule is returned when a rule set names the same permission twice
	ErrDuplicateRule = errors.New("duplicate permission rule")
)

// Role is a user's role. Stored values keep whatever case they were written
// with; comparisons go through Key.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleManager Role = "Manager"
	RoleMember  Role = "Member"
)

// Roles returns the three known roles
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleMember}
}

// ParseRole canonicalizes a role string case-insensitively. Unknown roles are
// returned trimmed but unchanged, with ok=false.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	for _, r := range Roles() {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return Role(s), false
}

// Key returns the lower-cased rule field name for the role ("admin",
// "manager", "member"), or "" when the role is not recognized.
func (r Role) Key() string {
	if canonical, ok := ParseRole(string(r)); ok {
		return strings.ToLower(string(canonical))
	}
	return ""
}

// Privileged reports whether the role bypasses task visibility filtering
func (r Role) Privileged() bool {
	k := r.Key()
	return k == "admin" || k == "manager"
}

// Action is a permission name
type Action string

const (
	ActionViewTasks      Action = "View Tasks"
	ActionCreateTasks    Action = "Create Tasks"
	ActionEditTasks      Action = "Edit Tasks"
	ActionDeleteTasks    Action = "Delete Tasks"
	ActionManageUsers    Action = "Manage Users"
	ActionManageSettings Action = "Manage Settings"
	ActionViewFinancials Action = "View Financials"
	ActionManageTeam     Action = "Manage Team"
)

// AllActions returns every known permission name
func AllActions() []Action {
	return []Action{
		ActionViewTasks,
		ActionCreateTasks,
		ActionEditTasks,
		ActionDeleteTasks,
		ActionManageUsers,
		ActionManageSettings,
		ActionViewFinancials,
		ActionManageTeam,
	}
}

// ParseAction resolves a permission name case-insensitively
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	for _, a := range AllActions() {
		if strings.EqualFold(s, string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// PermissionRule stores, for one action, whether each role may perform it
type PermissionRule struct {
	Permission Action `json:"permission"`
	Admin      bool   `json:"admin"`
	Manager    bool   `json:"manager"`
	Member     bool   `json:"member"`
}

// Allowed returns the rule's value for role; ok is false for roles the rule
// has no field for.
func (r PermissionRule) Allowed(role Role) (allowed bool, ok bool) {
	switch role.Key() {
	case "admin":
		return r.Admin, true
	case "manager":
		return r.Manager, true
	case "member":
		return r.Member, true
	}
	return false, false
}

// With returns a copy of the rule with role's field set to allowed
func (r PermissionRule) With(role Role, allowed bool) (PermissionRule, error) {
	switch role.Key() {
	case "admin":
		r.Admin = allowed
	case "manager":
		r.Manager = allowed
	case "member":
		r.Member = allowed
	default:
		return r, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return r, nil
}

// DefaultRules returns the built-in rule table written by ResetRules and
// settings initialization. View Financials is deliberately absent so that
// it resolves through the fallback.
func DefaultRules() []PermissionRule {
	return []PermissionRule{
		{Permission: ActionCreateTasks, Admin: true, Manager: true, Member: true},
		{Permission: ActionEditTasks, Admin: true, Manager: true, Member: true},
		{Permission: ActionDeleteTasks, Admin: true, Manager: false, Member: false},
		{Permission: ActionViewTasks, Admin: true, Manager: true, Member: true},
		{Permission: ActionManageUsers, Admin: true, Manager: false, Member: false},
		{Permission: ActionManageSettings, Admin: true, Manager: false, Member: false},
		{Permission: ActionManageTeam, Admin: true, Manager: true, Member: false},
	}
}

// FindRule returns the first rule for action
func FindRule(rules []PermissionRule, action Action) (PermissionRule, bool) {
	for _, r := range rules {
		if r.Permission == action {
			return r, true
		}
	}
	return PermissionRule{}, false
}

// ValidateRules rejects unknown and duplicated permission names
func ValidateRules(rules []PermissionRule) error {
	seen := make(map[Action]bool, len(rules))
	for _, r := range rules {
		if _, err := ParseAction(string(r.Permission)); err != nil {
			return err
		}
		if seen[r.Permission] {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, r.Permission)
		}
		seen[r.Permission] = true
	}
	return nil
}

// RulesFromData decodes the rules array of a settings document. Entries
// that are not objects or lack a permission name are dropped and counted.
func RulesFromData(v interface{}) (rules []PermissionRule, malformed int) {
	items, ok := v.([]interface{})
	if !ok {
		if v != nil {
			malformed++
		}
		return nil, malformed
	}

	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			malformed++
			continue
		}
		var r PermissionRule
		if err := json.Unmarshal(b, &r); err != nil || r.Permission == "" {
			malformed++
			continue
		}
		rules = append(rules, r)
	}
	return rules, malformed
}

// RulesToData converts rules to their stored document shape
func RulesToData(rules []PermissionRule) []interface{} {
	out := make([]interface{}, 0, len(rules))
	for _, r := range rules {
		out = append(out, map[string]interface{}{
			"permission": string(r.Permission),
			"admin":      r.Admin,
			"manager":    r.Manager,
			"member":     r.Member,
		})
	}
	return out
}
