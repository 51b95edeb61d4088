package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// RulesField is the settings document field holding the rule array
const RulesField = "rules"

// RuleStore persists permission rules inside the settings document. Every
// write is a single atomic Mutate that touches only RulesField.
type RuleStore struct {
	store  docstore.Store
	ref    docstore.Ref
	logger *observability.Logger
}

// NewRuleStore creates a rule store over the settings document at ref
func NewRuleStore(store docstore.Store, ref docstore.Ref, logger *observability.Logger) *RuleStore {
	return &RuleStore{
		store:  store,
		ref:    ref,
		logger: observability.OrNop(logger),
	}
}

// Rules returns the stored rules; a missing document or field yields none
func (s *RuleStore) Rules(ctx context.Context) ([]PermissionRule, error) {
	doc, err := s.store.Get(ctx, s.ref)
	if err != nil {
		if docstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load permission rules: %w", err)
	}
	return s.decode(doc.Data), nil
}

// EffectiveRules returns the stored rules, or DefaultRules when none are
// stored. This is the table an administrator edits.
func (s *RuleStore) EffectiveRules(ctx context.Context) ([]PermissionRule, bool, error) {
	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(rules) == 0 {
		return DefaultRules(), false, nil
	}
	return rules, true, nil
}

func (s *RuleStore) decode(data map[string]interface{}) []PermissionRule {
	rules, malformed := RulesFromData(data[RulesField])
	if malformed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"document":  s.ref.String(),
			"malformed": malformed,
		}).Warn("Ignoring malformed permission rules")
	}
	return rules
}

// SetRule sets one role's flag for action and returns the resulting rule.
// When nothing is stored yet the default table is materialized first. When
// the action has no rule, one is created with every other role keeping its
// current fallback decision.
func (s *RuleStore) SetRule(ctx context.Context, action Action, role Role, allowed bool) (before *PermissionRule, after PermissionRule, err error) {
	action, err = ParseAction(string(action))
	if err != nil {
		return nil, PermissionRule{}, err
	}
	if role.Key() == "" {
		return nil, PermissionRule{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	_, err = s.store.Mutate(ctx, s.ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		before = nil
		rules := s.decode(current)
		if len(rules) == 0 {
			rules = DefaultRules()
		}

		idx := -1
		for i, r := range rules {
			if r.Permission == action {
				idx = i
				break
			}
		}

		var rule PermissionRule
		if idx >= 0 {
			prev := rules[idx]
			before = &prev
			rule = prev
		} else {
			rule = PermissionRule{
				Permission: action,
				Admin:      Fallback(RoleAdmin),
				Manager:    Fallback(RoleManager),
				Member:     Fallback(RoleMember),
			}
		}

		updated, err := rule.With(role, allowed)
		if err != nil {
			return nil, err
		}
		after = updated

		if idx >= 0 {
			rules[idx] = updated
		} else {
			rules = append(rules, updated)
		}
		current[RulesField] = RulesToData(rules)
		return current, nil
	})
	if err != nil {
		return nil, PermissionRule{}, fmt.Errorf("failed to set permission rule: %w", err)
	}
	return before, after, nil
}

// ReplaceRules overwrites the whole rule table
func (s *RuleStore) ReplaceRules(ctx context.Context, rules []PermissionRule) error {
	canonical := make([]PermissionRule, len(rules))
	for i, r := range rules {
		action, err := ParseAction(string(r.Permission))
		if err != nil {
			return err
		}
		r.Permission = action
		canonical[i] = r
	}
	if err := ValidateRules(canonical); err != nil {
		return err
	}

	_, err := s.store.Mutate(ctx, s.ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		current[RulesField] = RulesToData(canonical)
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace permission rules: %w", err)
	}
	return nil
}

// ResetRules writes DefaultRules
func (s *RuleStore) ResetRules(ctx context.Context) error {
	return s.ReplaceRules(ctx, DefaultRules())
}
