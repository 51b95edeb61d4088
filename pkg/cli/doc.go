// Package cli implements the tasktrax operator commands on top of the
// domain services: permission rules, settings, tasks and users.
//
// Commands act as the built-in admin Operator unless --as names a stored
// user, in which case that user's role is enforced exactly as it is for
// API callers. --json switches every command to JSON output.
package cli
