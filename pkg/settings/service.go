package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// ErrInvalidCategory is returned for an empty custom field category name
var ErrInvalidCategory = errors.New("invalid custom field category")

// Service writes the settings singleton. Custom field writes deep-merge so
// that concurrent edits of different categories never overwrite each other.
type Service struct {
	store  docstore.Store
	logger *observability.Logger
}

// NewService creates a settings service
func NewService(store docstore.Store, logger *observability.Logger) *Service {
	return &Service{store: store, logger: observability.OrNop(logger)}
}

// Get reads the settings document; stored is false when it does not exist
func (s *Service) Get(ctx context.Context) (AppSettings, bool, error) {
	doc, err := s.store.Get(ctx, Ref)
	if err != nil {
		if docstore.IsNotFound(err) {
			return Empty(), false, nil
		}
		return AppSettings{}, false, fmt.Errorf("failed to load settings: %w", err)
	}
	settings, _ := FromData(doc.Data)
	return settings, true, nil
}

// UpdateCustomFields replaces the option list of one category and leaves
// every other category untouched. It returns the previous list.
func (s *Service) UpdateCustomFields(ctx context.Context, category string, values []string) ([]string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, ErrInvalidCategory
	}
	values = CleanValues(values)

	var before []string
	_, err := s.store.Mutate(ctx, Ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		existing, _ := FromData(current)
		before = existing.CustomFields[category]

		fields, _ := current[CustomFieldsField].(map[string]interface{})
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields[category] = valuesToData(values)
		current[CustomFieldsField] = fields
		return current, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update custom field %s: %w", category, err)
	}
	return before, nil
}

// DeleteCategory removes a custom field category
func (s *Service) DeleteCategory(ctx context.Context, category string) error {
	_, err := docstore.Set(ctx, s.store, Ref, map[string]interface{}{
		CustomFieldsField: map[string]interface{}{category: docstore.DeleteField},
	}, docstore.Merge())
	if err != nil {
		return fmt.Errorf("failed to delete custom field %s: %w", category, err)
	}
	return nil
}

// InitializeDefaults seeds the default custom fields and permission rules.
// Categories that already exist and stored rules are kept.
func (s *Service) InitializeDefaults(ctx context.Context) (AppSettings, error) {
	return s.Apply(ctx, AppSettings{CustomFields: DefaultCustomFields(), Rules: rbac.DefaultRules()}, false)
}

// Apply writes seed into the settings document. Without overwrite only
// missing categories are added and rules are written only when none are
// stored; with overwrite every seeded category and a non-empty rule set
// replace what is stored. Unrelated categories are always kept.
func (s *Service) Apply(ctx context.Context, seed AppSettings, overwrite bool) (AppSettings, error) {
	if len(seed.Rules) > 0 {
		if err := rbac.ValidateRules(seed.Rules); err != nil {
			return AppSettings{}, err
		}
	}

	added := 0
	doc, err := s.store.Mutate(ctx, Ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		added = 0
		fields, _ := current[CustomFieldsField].(map[string]interface{})
		if fields == nil {
			fields = map[string]interface{}{}
		}
		for category, values := range seed.CustomFields {
			if _, ok := fields[category]; ok && !overwrite {
				continue
			}
			fields[category] = valuesToData(CleanValues(values))
			added++
		}
		current[CustomFieldsField] = fields

		rules, _ := rbac.RulesFromData(current[rbac.RulesField])
		if len(seed.Rules) > 0 && (overwrite || len(rules) == 0) {
			current[rbac.RulesField] = rbac.RulesToData(seed.Rules)
			added++
		}
		return current, nil
	})
	if err != nil {
		return AppSettings{}, fmt.Errorf("failed to apply settings: %w", err)
	}

	settings, _ := FromData(doc.Data)
	s.logger.WithFields(map[string]interface{}{
		"changed":   added,
		"overwrite": overwrite,
	}).Info("Settings applied")
	return settings, nil
}
