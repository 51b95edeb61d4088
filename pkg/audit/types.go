package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRuleChange   EventType = "authz.rule_change"
	EventTypeAuthzRulesReset   EventType = "authz.rules_reset"

	// Task events
	EventTypeTaskCreate       EventType = "data.task_create"
	EventTypeTaskUpdate       EventType = "data.task_update"
	EventTypeTaskStatusChange EventType = "data.task_status_change"
	EventTypeTaskFilesUpdate  EventType = "data.task_files_update"
	EventTypeTaskComment      EventType = "data.task_comment"
	EventTypeTaskDelete       EventType = "data.task_delete"
	EventTypeTaskOverdue      EventType = "data.task_overdue"

	// Configuration events
	EventTypeSettingsChange     EventType = "config.settings_change"
	EventTypeSettingsInitialize EventType = "config.settings_initialize"

	// Admin events
	EventTypeAdminUserCreate     EventType = "admin.user_create"
	EventTypeAdminUserRoleChange EventType = "admin.user_role_change"
	EventTypeAdminUserDeptChange EventType = "admin.user_department_change"
	EventTypeAdminUserDelete     EventType = "admin.user_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeTask       ResourceType = "task"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeSettings   ResourceType = "settings"
)

// Actor identifies who performed an audited action
type Actor struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// WithActor copies the actor fields into the event
func (e *AuditEvent) WithActor(a Actor) *AuditEvent {
	e.UserID = a.ID
	e.Username = a.Name
	e.Role = a.Role
	return e
}

// WithResource sets the resource fields
func (e *AuditEvent) WithResource(t ResourceType, id string) *AuditEvent {
	e.ResourceType = t
	e.ResourceID = id
	return e
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID       string
	EventTypes   []EventType
	Status       *EventStatus
	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// Matches reports whether event satisfies the filter (pagination aside)
func (f SearchFilter) Matches(event *AuditEvent) bool {
	if f.StartTime != nil && event.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && event.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && event.Status != *f.Status {
		return false
	}
	if f.ResourceType != "" && event.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && event.ResourceID != f.ResourceID {
		return false
	}
	return true
}
