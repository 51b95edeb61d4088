package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

func TestFromData(t *testing.T) {
	tests := []struct {
		name      string
		data      map[string]interface{}
		want      AppSettings
		malformed int
	}{
		{
			name: "missing document",
			data: nil,
			want: Empty(),
		},
		{
			name: "complete",
			data: map[string]interface{}{
				"customFields": map[string]interface{}{"Priority": []interface{}{"Low", "High"}},
				"rules": []interface{}{
					map[string]interface{}{"permission": "Delete Tasks", "admin": true, "manager": true, "member": false},
				},
			},
			want: AppSettings{
				CustomFields: map[string][]string{"Priority": {"Low", "High"}},
				Rules:        []rbac.PermissionRule{{Permission: rbac.ActionDeleteTasks, Admin: true, Manager: true}},
			},
		},
		{
			name: "malformed category and rule",
			data: map[string]interface{}{
				"customFields": map[string]interface{}{
					"Label":    []interface{}{"Work"},
					"Priority": "High",
					"Currency": []interface{}{"USD", 3},
				},
				"rules": []interface{}{"nope"},
			},
			want: AppSettings{
				CustomFields: map[string][]string{"Label": {"Work"}},
				Rules:        []rbac.PermissionRule{},
			},
			malformed: 3,
		},
		{
			name:      "custom fields of the wrong type",
			data:      map[string]interface{}{"customFields": []interface{}{"x"}},
			want:      Empty(),
			malformed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, malformed := FromData(tt.data)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.malformed, malformed)
		})
	}
}

func TestCleanValues(t *testing.T) {
	assert.Equal(t, []string{"Low", "High"}, CleanValues([]string{" Low ", "", "High", "Low"}))
	assert.Equal(t, []string{}, CleanValues(nil))
}

func TestDefaultCustomFields(t *testing.T) {
	s := AppSettings{CustomFields: DefaultCustomFields()}
	assert.Equal(t, []string{"Currency", "Department", "Label", "Priority", "Receiver Location", "Sender Location", "Status"}, s.Categories())
	assert.Equal(t, []string{"Pending", "In Progress", "Completed", "To hold", "Overdue"}, s.Options("Status"))
	assert.Nil(t, s.Options("Missing"))
}
