package users

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// Collection is the document collection holding user profiles
const Collection = "users"

const (
	// DefaultDepartment is assigned to users created without one
	DefaultDepartment = "General"
	// placeholderName is the name the sign-up flow writes before a profile is edited
	placeholderName = "User"
)

// User is a profile from the users collection
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       rbac.Role `json:"role"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	Department string    `json:"department,omitempty"`
}

// PrincipalID implements rbac.Principal
func (u *User) PrincipalID() string { return u.ID }

// PrincipalName implements rbac.Principal
func (u *User) PrincipalName() string { return u.Name }

// PrincipalRole implements rbac.Principal
func (u *User) PrincipalRole() rbac.Role { return u.Role }

// Snapshot returns the denormalized copy embedded in tasks and activity
// entries.
func (u User) Snapshot() map[string]interface{} {
	m := map[string]interface{}{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"role":  string(u.Role),
	}
	if u.AvatarURL != "" {
		m["avatarUrl"] = u.AvatarURL
	}
	if u.Department != "" {
		m["department"] = u.Department
	}
	return m
}

// FromData builds a user from document data. Missing roles become Member,
// known roles are canonicalized, and a missing or placeholder name is
// derived from the email address.
func FromData(id string, data map[string]interface{}) User {
	u := User{
		ID:         id,
		Name:       stringField(data, "name"),
		Email:      stringField(data, "email"),
		AvatarURL:  stringField(data, "avatarUrl"),
		Department: stringField(data, "department"),
	}
	if u.ID == "" {
		u.ID = stringField(data, "id")
	}

	role, _ := rbac.ParseRole(stringField(data, "role"))
	if role == "" {
		role = rbac.RoleMember
	}
	u.Role = role

	if u.Name == "" || u.Name == placeholderName {
		u.Name = DeriveNameFromEmail(u.Email)
	}
	return u
}

// DeriveNameFromEmail turns "jane.doe42@example.com" into "Jane doe".
// An empty email yields "User".
func DeriveNameFromEmail(email string) string {
	if email == "" {
		return placeholderName
	}
	prefix, _, _ := strings.Cut(email, "@")
	prefix = strings.Map(func(r rune) rune {
		if r == '.' || unicode.IsDigit(r) {
			return ' '
		}
		return r
	}, prefix)
	prefix = strings.TrimSpace(strings.Join(strings.Fields(prefix), " "))
	if prefix == "" {
		return placeholderName
	}
	r, size := utf8.DecodeRuneInString(prefix)
	return string(unicode.ToUpper(r)) + prefix[size:]
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

// FromDocument builds a user from a users collection document
func FromDocument(doc *docstore.Document) User {
	return FromData(doc.ID, doc.Data)
}
