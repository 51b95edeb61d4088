package settings

import (
	"sort"
	"strings"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

const (
	// Collection holds the settings singleton
	Collection = "settings"
	// DocumentID is the id of the settings singleton
	DocumentID = "global"
	// CustomFieldsField is the document field holding the custom field categories
	CustomFieldsField = "customFields"
)

// Ref is the reference of the settings singleton
var Ref = docstore.NewRef(Collection, DocumentID)

// AppSettings is the settings singleton
type AppSettings struct {
	CustomFields map[string][]string   `json:"customFields" yaml:"customFields"`
	Rules        []rbac.PermissionRule `json:"rules" yaml:"rules"`
}

// Empty returns the settings shown while nothing is stored
func Empty() AppSettings {
	return AppSettings{CustomFields: map[string][]string{}, Rules: []rbac.PermissionRule{}}
}

// DefaultCustomFields returns the option lists offered when settings are
// initialized
func DefaultCustomFields() map[string][]string {
	return map[string][]string{
		"Priority":          {"Low", "Medium", "High", "Urgent"},
		"Status":            {"Pending", "In Progress", "Completed", "To hold", "Overdue"},
		"Label":             {"Personal", "Work", "Urgent"},
		"Department":        {"General", "Finance", "IT", "Marketing", "Operations"},
		"Currency":          {"USD", "EUR", "GBP", "AED"},
		"Sender Location":   {"Headquarters", "Branch NY", "Branch LDN"},
		"Receiver Location": {"Warehouse A", "Client Site", "Remote"},
	}
}

// Categories returns the custom field category names in order
func (s AppSettings) Categories() []string {
	names := make([]string, 0, len(s.CustomFields))
	for name := range s.CustomFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options returns the values of a category; a missing category has none
func (s AppSettings) Options(category string) []string {
	return s.CustomFields[category]
}

// FromData decodes the settings document. nil data yields Empty. Values
// that are not string lists are skipped and counted as malformed, together
// with malformed rules.
func FromData(data map[string]interface{}) (AppSettings, int) {
	s := Empty()
	if data == nil {
		return s, 0
	}

	malformed := 0
	switch fields := data[CustomFieldsField].(type) {
	case nil:
	case map[string]interface{}:
		for category, raw := range fields {
			values, ok := stringList(raw)
			if !ok {
				malformed++
				continue
			}
			s.CustomFields[category] = values
		}
	default:
		malformed++
	}

	rules, bad := rbac.RulesFromData(data[rbac.RulesField])
	if rules != nil {
		s.Rules = rules
	}
	return s, malformed + bad
}

// CleanValues trims values and drops empty and duplicate entries while
// keeping their order
func CleanValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func stringList(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func valuesToData(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
