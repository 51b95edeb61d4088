// Package tasks implements the task model and every write path into the
// tasks collection.
//
// Stored task documents are loosely typed; Normalize turns one into a Task,
// reducing timestamps to time.Time and amounts to float64.
//
// Ids are sequential (T-001, T-002, ...). Allocator.Reserve picks the next
// id and creates the document in one create-if-absent write, rescanning when
// a concurrent writer took the id first.
//
// Each task carries an append-only activity list. Entries are unioned into
// the stored list rather than rewritten, so concurrent writers never drop
// each other's entries; readers sort by timestamp.
//
//	svc := tasks.NewService(store, resolver, directory, tasks.NewAppender(store, key, metrics), recorder, logger, metrics)
//	t, err := svc.Create(ctx, user, tasks.Draft{Title: "Quarterly filing"})
//	_, err = svc.Comment(ctx, user, t.ID, "submitted")
//
// Visible narrows a task list to what a user may observe.
package tasks
