package users

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

func TestDeriveNameFromEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe42@example.com", "Jane doe"},
		{"bob@example.com", "Bob"},
		{"1234@example.com", "User"},
		{"", "User"},
		{"x.y.z", "X y z"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveNameFromEmail(tt.email))
		})
	}
}

func TestFromData(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want User
	}{
		{
			name: "complete",
			data: map[string]interface{}{"name": "Ada", "email": "ada@example.com", "role": "Admin", "department": "IT"},
			want: User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin, Department: "IT"},
		},
		{
			name: "lower case role is canonicalized",
			data: map[string]interface{}{"name": "Max", "role": "manager"},
			want: User{ID: "u1", Name: "Max", Role: rbac.RoleManager},
		},
		{
			name: "missing role defaults to member",
			data: map[string]interface{}{"name": "Mo"},
			want: User{ID: "u1", Name: "Mo", Role: rbac.RoleMember},
		},
		{
			name: "placeholder name derived from email",
			data: map[string]interface{}{"name": "User", "email": "sam.lee@example.com"},
			want: User{ID: "u1", Name: "Sam lee", Email: "sam.lee@example.com", Role: rbac.RoleMember},
		},
		{
			name: "wrong field types are ignored",
			data: map[string]interface{}{"name": 7, "role": true},
			want: User{ID: "u1", Name: "User", Role: rbac.RoleMember},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromData("u1", tt.data))
		})
	}
}

func TestUser_Principal(t *testing.T) {
	u := &User{ID: "u1", Name: "Ada", Role: rbac.RoleManager}
	var p rbac.Principal = u
	assert.Equal(t, "u1", p.PrincipalID())
	assert.Equal(t, "Ada", p.PrincipalName())
	assert.Equal(t, rbac.RoleManager, p.PrincipalRole())
}

func TestUser_Snapshot(t *testing.T) {
	u := User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin}
	assert.Equal(t, map[string]interface{}{
		"id":    "u1",
		"name":  "Ada",
		"email": "ada@example.com",
		"role":  "Admin",
	}, u.Snapshot())

	u.AvatarURL = "https://img/ada.png"
	assert.Equal(t, "https://img/ada.png", u.Snapshot()["avatarUrl"])
}
