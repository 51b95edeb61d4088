// Package audit records the security audit trail of tasktrax: sign-ins,
// permission denials, permission rule and settings changes, task and user
// administration.
//
// The trail is separate from the per-task activity log. Activity entries are
// shown to users; audit events are for operators.
//
// Backends:
//
//   - DBLogger writes to a PostgreSQL audit_logs table (JSONB metadata)
//   - FileLogger writes JSON lines with size based rotation
//   - MultiLogger fans out to several loggers
//
// Services write through a Recorder so that an audit failure never fails
// the operation being audited:
//
//	rec := audit.NewRecorder(fileLogger, logger)
//	rec.Record(ctx, audit.NewEvent(ctx, audit.EventTypeTaskDelete, audit.EventStatusSuccess).
//		WithResource(audit.ResourceTypeTask, "T-014"))
package audit
