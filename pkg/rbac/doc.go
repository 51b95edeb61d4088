// Package rbac decides what a tasktrax user may do.
//
// A permission rule maps one action ("Delete Tasks", "Manage Settings", ...)
// to an allowed flag for each of the three roles Admin, Manager and Member.
// Rules live in the settings document and are edited through RuleStore.
//
// Resolution (see Decide) is pure and never blocks:
//
//	resolver := rbac.NewResolver(settingsController)
//	if resolver.Can(user.Role, rbac.ActionDeleteTasks) {
//		...
//	}
//
// Role names are compared case-insensitively. Admin always keeps Manage
// Settings. Actions without a stored rule fall back to allowing Admin and
// Manager only.
package rbac
