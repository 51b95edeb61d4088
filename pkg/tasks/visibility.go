package tasks

import "github.com/platinummonkey/tasktrax/pkg/users"

// Visible returns the tasks user may observe. Admins and Managers see every
// task and get tasks back unchanged. Everyone else sees only tasks they are
// assigned to, created, or are listed on as a viewer, in input order.
//
// This narrows what a subscriber is shown; it does not stop the store from
// delivering the full collection to the process in the first place.
func Visible(tasks []Task, user users.User) []Task {
	if user.Role.Privileged() {
		return tasks
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if VisibleTo(t, user) {
			out = append(out, t)
		}
	}
	return out
}

// VisibleTo reports whether a single task is visible to user
func VisibleTo(t Task, user users.User) bool {
	if user.Role.Privileged() {
		return true
	}
	if user.ID == "" {
		return false
	}
	if t.Assignee != nil && t.Assignee.ID == user.ID {
		return true
	}
	if t.CreatorID == user.ID {
		return true
	}
	for _, v := range t.Viewers {
		if v.ID == user.ID {
			return true
		}
	}
	return false
}
