package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

var (
	// ErrPermissionDenied is returned when the actor's role may not perform the operation
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTaskNotFound is returned for missing tasks and tasks the actor cannot see
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidDates is returned when the posted on date precedes the received date
	ErrInvalidDates = errors.New("posted on date cannot be before received date")
	// ErrTitleRequired is returned when a task has no title
	ErrTitleRequired = errors.New("title is required")
	// ErrInvalidStatus is returned for an unknown status
	ErrInvalidStatus = errors.New("unknown task status")
	// ErrEmptyComment is returned for a blank comment
	ErrEmptyComment = errors.New("comment is empty")
	// ErrUnknownUser is returned when an assignee or viewer has no profile
	ErrUnknownUser = errors.New("unknown user")
)

// People resolves user ids to their current profile. *users.Directory
// implements it.
type People interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// SystemUser is the actor recorded for changes made by background jobs
var SystemUser = users.User{ID: "system", Name: "System", Role: rbac.RoleAdmin}

// Draft is the input of Create
type Draft struct {
	Title       string      `json:"title"`
	Label       string      `json:"label,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	Assignee    *users.User `json:"assignee,omitempty"`
	Description string      `json:"description,omitempty"`

	DueDate      *time.Time `json:"dueDate,omitempty"`
	EntryDate    *time.Time `json:"entryDate,omitempty"`
	ReceivedDate *time.Time `json:"receivedDate,omitempty"`

	Department       string `json:"department,omitempty"`
	Sender           string `json:"sender,omitempty"`
	SenderLocation   string `json:"senderLocation,omitempty"`
	Receiver         string `json:"receiver,omitempty"`
	ReceiverLocation string `json:"receiverLocation,omitempty"`
	Period           string `json:"period,omitempty"`

	InitialDemand              Amount `json:"initialDemand,omitempty"`
	InitialDemandCurrency      string `json:"initialDemandCurrency,omitempty"`
	OfficialSettlement         Amount `json:"officialSettlement,omitempty"`
	OfficialSettlementCurrency string `json:"officialSettlementCurrency,omitempty"`
	Motivation                 Amount `json:"motivation,omitempty"`
	MotivationCurrency         string `json:"motivationCurrency,omitempty"`

	Files   []File       `json:"files,omitempty"`
	Viewers []users.User `json:"viewers,omitempty"`
}

// Patch is a merge patch for Update: nil fields are left alone. The id,
// creation time, posted on date and activity list cannot be patched.
type Patch struct {
	Title       *string     `json:"title,omitempty"`
	Label       *string     `json:"label,omitempty"`
	Status      *Status     `json:"status,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	Assignee    *users.User `json:"assignee,omitempty"`
	Description *string     `json:"description,omitempty"`

	DueDate      *time.Time `json:"dueDate,omitempty"`
	ReceivedDate *time.Time `json:"receivedDate,omitempty"`

	Department       *string `json:"department,omitempty"`
	Sender           *string `json:"sender,omitempty"`
	SenderLocation   *string `json:"senderLocation,omitempty"`
	Receiver         *string `json:"receiver,omitempty"`
	ReceiverLocation *string `json:"receiverLocation,omitempty"`
	Period           *string `json:"period,omitempty"`

	InitialDemand              *Amount `json:"initialDemand,omitempty"`
	InitialDemandCurrency      *string `json:"initialDemandCurrency,omitempty"`
	OfficialSettlement         *Amount `json:"officialSettlement,omitempty"`
	OfficialSettlementCurrency *string `json:"officialSettlementCurrency,omitempty"`
	Motivation                 *Amount `json:"motivation,omitempty"`
	MotivationCurrency         *string `json:"motivationCurrency,omitempty"`

	Viewers *[]users.User `json:"viewers,omitempty"`
}

// data returns the stored fields the patch sets
func (p Patch) data() map[string]interface{} {
	out := map[string]interface{}{}
	strs := map[string]*string{
		"title":                      p.Title,
		"label":                      p.Label,
		"description":                p.Description,
		"department":                 p.Department,
		"sender":                     p.Sender,
		"senderLocation":             p.SenderLocation,
		"receiver":                   p.Receiver,
		"receiverLocation":           p.ReceiverLocation,
		"period":                     p.Period,
		"initialDemandCurrency":      p.InitialDemandCurrency,
		"officialSettlementCurrency": p.OfficialSettlementCurrency,
		"motivationCurrency":         p.MotivationCurrency,
	}
	for k, v := range strs {
		if v != nil {
			out[k] = *v
		}
	}
	amounts := map[string]*Amount{
		"initialDemand":      p.InitialDemand,
		"officialSettlement": p.OfficialSettlement,
		"motivation":         p.Motivation,
	}
	for k, v := range amounts {
		if v != nil {
			out[k] = float64(*v)
		}
	}
	if p.Status != nil {
		out["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		out["priority"] = string(*p.Priority)
	}
	if p.DueDate != nil {
		out["dueDate"] = FormatTime(*p.DueDate)
	}
	if p.ReceivedDate != nil {
		out["receivedDate"] = FormatTime(*p.ReceivedDate)
	}
	if p.Assignee != nil {
		out["assignee"] = p.Assignee.Snapshot()
	}
	if p.Viewers != nil {
		out["viewers"] = usersToData(*p.Viewers)
	}
	return out
}

// ValidateDates rejects a posted on (entry) date that falls on an earlier
// day than the received date. Days are compared in UTC; either date unset
// passes.
func ValidateDates(entry, received *time.Time) error {
	if entry == nil || received == nil {
		return nil
	}
	if startOfDay(*entry).Before(startOfDay(*received)) {
		return ErrInvalidDates
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Service performs task operations on behalf of a user. Every operation
// checks the actor's permission first and every write records its activity
// entries in the same store mutation as the change itself.
type Service struct {
	store     docstore.Store
	people    People
	allocator *Allocator
	appender  *Appender
	resolver  *rbac.Resolver
	recorder  *audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService creates a task service. Assignees and viewers are looked up in
// people so stored snapshots always carry the current profile.
func NewService(store docstore.Store, resolver *rbac.Resolver, people People, appender *Appender, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Service {
	logger = observability.OrNop(logger)
	return &Service{
		store:     store,
		people:    people,
		allocator: NewAllocator(store, logger, metrics),
		appender:  appender,
		resolver:  resolver,
		recorder:  recorder,
		logger:    logger,
		metrics:   metrics,
		now:       docstore.Now,
	}
}

// Allocator returns the id allocator used by Create
func (s *Service) Allocator() *Allocator {
	return s.allocator
}

// Appender returns the activity appender
func (s *Service) Appender() *Appender {
	return s.appender
}

// authorize checks the actor's role against action and audits denials
func (s *Service) authorize(ctx context.Context, actor users.User, action rbac.Action, taskID string) error {
	allowed := s.resolver.Can(actor.Role, action)
	s.metrics.PermissionDecision(string(action), actor.Role.Key(), allowed)
	if allowed {
		return nil
	}

	event := s.event(ctx, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, actor, taskID)
	event.Metadata["action"] = string(action)
	s.recorder.Record(ctx, event)
	return fmt.Errorf("%w: %s", ErrPermissionDenied, action)
}

func (s *Service) event(ctx context.Context, eventType audit.EventType, status audit.EventStatus, actor users.User, taskID string) *audit.AuditEvent {
	return audit.NewEvent(ctx, eventType, status).
		WithActor(rbac.ActorOf(&actor)).
		WithResource(audit.ResourceTypeTask, taskID)
}

// snapshot returns the stored profile for u.ID
func (s *Service) snapshot(ctx context.Context, u users.User) (users.User, error) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return users.User{}, fmt.Errorf("%w: missing id", ErrUnknownUser)
	}
	found, err := s.people.Get(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return users.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
		}
		return users.User{}, fmt.Errorf("failed to look up user %s: %w", id, err)
	}
	return *found, nil
}

// snapshots resolves every user in list, dropping repeated ids
func (s *Service) snapshots(ctx context.Context, list []users.User) ([]users.User, error) {
	out := make([]users.User, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, u := range list {
		resolved, err := s.snapshot(ctx, u)
		if err != nil {
			return nil, err
		}
		if seen[resolved.ID] {
			continue
		}
		seen[resolved.ID] = true
		out = append(out, resolved)
	}
	return out, nil
}

func (s *Service) log(ctx context.Context, actor users.User, taskID string) *observability.Logger {
	return observability.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id": taskID,
		"user_id": actor.ID,
	})
}

// Create allocates the next sequential id and writes a new task under it
// with its initial "created task" and "assigned to" activity. The task is
// assigned to the actor when the draft names no assignee.
func (s *Service) Create(ctx context.Context, actor users.User, d Draft) (Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionCreateTasks, ""); err != nil {
		return Task{}, err
	}

	if d.Assignee != nil {
		assignee, err := s.snapshot(ctx, *d.Assignee)
		if err != nil {
			return Task{}, err
		}
		d.Assignee = &assignee
	}
	viewers, err := s.snapshots(ctx, d.Viewers)
	if err != nil {
		return Task{}, err
	}
	d.Viewers = viewers

	t, err := s.taskFromDraft(actor, d)
	if err != nil {
		return Task{}, err
	}
	entries := []Activity{
		s.appender.Entry(actor, ActionCreated, ""),
		s.appender.Entry(actor, ActionAssigned, t.Assignee.Name),
	}

	doc, err := s.allocator.Reserve(ctx, func(id string) (map[string]interface{}, error) {
		t.ID = id
		s.appender.Seal(id, entries)
		t.Activity = entries
		return ToDocument(t), nil
	})
	if err != nil {
		return Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	for _, e := range entries {
		s.metrics.ActivityAppended(e.Action)
	}

	created, err := Normalize(doc)
	if err != nil {
		return Task{}, err
	}

	event := s.event(ctx, audit.EventTypeTaskCreate, audit.EventStatusSuccess, actor, created.ID)
	event.Changes = &audit.ChangeDetails{After: auditFields(created)}
	s.recorder.Record(ctx, event)
	s.log(ctx, actor, created.ID).Info("Task created")

	return created, nil
}

func (s *Service) taskFromDraft(actor users.User, d Draft) (Task, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}

	status := StatusPending
	if d.Status != "" {
		parsed, ok := ParseStatus(string(d.Status))
		if !ok {
			return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
		}
		status = parsed
	}
	priority := d.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	now := s.now()
	entry := d.EntryDate
	if entry == nil {
		entry = &now
	}
	if err := ValidateDates(entry, d.ReceivedDate); err != nil {
		return Task{}, err
	}

	assignee := actor
	if d.Assignee != nil {
		assignee = *d.Assignee
	}
	viewers := d.Viewers
	if viewers == nil {
		viewers = []users.User{}
	}
	files := d.Files
	if files == nil {
		files = []File{}
	}

	return Task{
		Title:                      title,
		Label:                      d.Label,
		Status:                     status,
		Priority:                   priority,
		Assignee:                   &assignee,
		Description:                d.Description,
		DueDate:                    d.DueDate,
		EntryDate:                  entry,
		ReceivedDate:               d.ReceivedDate,
		Department:                 d.Department,
		Sender:                     d.Sender,
		SenderLocation:             d.SenderLocation,
		Receiver:                   d.Receiver,
		ReceiverLocation:           d.ReceiverLocation,
		Period:                     d.Period,
		InitialDemand:              float64(d.InitialDemand),
		InitialDemandCurrency:      d.InitialDemandCurrency,
		OfficialSettlement:         float64(d.OfficialSettlement),
		OfficialSettlementCurrency: d.OfficialSettlementCurrency,
		Motivation:                 float64(d.Motivation),
		MotivationCurrency:         d.MotivationCurrency,
		Files:                      files,
		Viewers:                    viewers,
		CreatorID:                  actor.ID,
		CreatedAt:                  &now,
		UpdatedAt:                  &now,
	}, nil
}

// mutation computes the patch and activity for one change of a task.
// Returning neither leaves the task untouched.
type mutation func(before Task) (patch map[string]interface{}, entries []Activity, err error)

// mutate applies fn to the current stored task in a single store mutation.
// Activity entries are unioned into the stored list and updatedAt is
// bumped in the same write.
func (s *Service) mutate(ctx context.Context, actor users.User, id string, fn mutation) (before, after Task, changed bool, err error) {
	var appended []Activity
	doc, err := s.store.Mutate(ctx, Ref(id), func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		changed, appended = false, nil
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		b, err := Normalize(&docstore.Document{Collection: Collection, ID: id, Data: current})
		if err != nil {
			return nil, err
		}
		if !VisibleTo(b, actor) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		before = b

		patch, entries, err := fn(b)
		if err != nil {
			return nil, err
		}
		if len(patch) == 0 && len(entries) == 0 {
			return nil, nil
		}
		if patch == nil {
			patch = map[string]interface{}{}
		}
		if len(entries) > 0 {
			s.appender.Seal(id, entries)
			patch[ActivityField] = docstore.ArrayUnion(activityItems(entries)...)
		}
		patch["updatedAt"] = FormatTime(s.now())
		if err := docstore.ApplyPatch(current, patch); err != nil {
			return nil, err
		}
		changed, appended = true, entries
		return current, nil
	})
	if err != nil {
		if docstore.IsNotFound(err) && !errors.Is(err, ErrTaskNotFound) {
			err = fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return Task{}, Task{}, false, err
	}

	after, err = Normalize(doc)
	if err != nil {
		return Task{}, Task{}, false, err
	}
	for _, e := range appended {
		s.metrics.ActivityAppended(e.Action)
	}
	return before, after, changed, nil
}

// Update applies a merge patch. It always records "updated task details",
// plus "assigned to" when the assignee changes and "changed status to" when
// the status changes. The result must still satisfy ValidateDates.
func (s *Service) Update(ctx context.Context, actor users.User, id string, p Patch) (Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionEditTasks, id); err != nil {
		return Task{}, err
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Task{}, ErrTitleRequired
	}
	if p.Status != nil {
		status, ok := ParseStatus(string(*p.Status))
		if !ok {
			return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
		}
		p.Status = &status
	}
	if p.Assignee != nil {
		assignee, err := s.snapshot(ctx, *p.Assignee)
		if err != nil {
			return Task{}, err
		}
		p.Assignee = &assignee
	}
	if p.Viewers != nil {
		viewers, err := s.snapshots(ctx, *p.Viewers)
		if err != nil {
			return Task{}, err
		}
		p.Viewers = &viewers
	}

	before, after, _, err := s.mutate(ctx, actor, id, func(b Task) (map[string]interface{}, []Activity, error) {
		received := b.ReceivedDate
		if p.ReceivedDate != nil {
			received = p.ReceivedDate
		}
		if err := ValidateDates(b.EntryDate, received); err != nil {
			return nil, nil, err
		}

		entries := []Activity{s.appender.Entry(actor, ActionUpdated, "")}
		if p.Assignee != nil && (b.Assignee == nil || b.Assignee.ID != p.Assignee.ID) {
			entries = append(entries, s.appender.Entry(actor, ActionAssigned, p.Assignee.Name))
		}
		if p.Status != nil && *p.Status != b.Status {
			entries = append(entries, s.appender.Entry(actor, ActionStatusChanged, string(*p.Status)))
		}
		return p.data(), entries, nil
	})
	if err != nil {
		return Task{}, err
	}

	event := s.event(ctx, audit.EventTypeTaskUpdate, audit.EventStatusSuccess, actor, id)
	event.Changes = &audit.ChangeDetails{Before: auditFields(before), After: auditFields(after)}
	s.recorder.Record(ctx, event)
	s.log(ctx, actor, id).Info("Task updated")

	return after, nil
}

// UpdateStatus moves a task to status. Setting the current status again is
// a no-op.
func (s *Service) UpdateStatus(ctx context.Context, actor users.User, id string, status Status) (Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionEditTasks, id); err != nil {
		return Task{}, err
	}
	parsed, ok := ParseStatus(string(status))
	if !ok {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	before, after, changed, err := s.mutate(ctx, actor, id, func(b Task) (map[string]interface{}, []Activity, error) {
		if b.Status == parsed {
			return nil, nil, nil
		}
		patch := map[string]interface{}{"status": string(parsed)}
		return patch, []Activity{s.appender.Entry(actor, ActionStatusChanged, string(parsed))}, nil
	})
	if err != nil {
		return Task{}, err
	}
	if !changed {
		return after, nil
	}

	event := s.event(ctx, audit.EventTypeTaskStatusChange, audit.EventStatusSuccess, actor, id)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"status": string(before.Status)},
		After:  map[string]interface{}{"status": string(after.Status)},
	}
	s.recorder.Record(ctx, event)
	s.log(ctx, actor, id).WithField("status", string(parsed)).Info("Task status changed")

	return after, nil
}

// UpdateFiles replaces the attachment list, recording one "added a file" or
// "deleted a file" entry per attachment name that appears or disappears.
func (s *Service) UpdateFiles(ctx context.Context, actor users.User, id string, files []File) (Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionEditTasks, id); err != nil {
		return Task{}, err
	}
	if files == nil {
		files = []File{}
	}

	before, after, changed, err := s.mutate(ctx, actor, id, func(b Task) (map[string]interface{}, []Activity, error) {
		added, removed := diffFiles(b.Files, files)
		if len(added) == 0 && len(removed) == 0 && len(b.Files) == len(files) {
			return nil, nil, nil
		}
		var entries []Activity
		for _, name := range added {
			entries = append(entries, s.appender.Entry(actor, ActionFileAdded, name))
		}
		for _, name := range removed {
			entries = append(entries, s.appender.Entry(actor, ActionFileDeleted, name))
		}
		return map[string]interface{}{"files": filesToData(files)}, entries, nil
	})
	if err != nil {
		return Task{}, err
	}
	if !changed {
		return after, nil
	}

	event := s.event(ctx, audit.EventTypeTaskFilesUpdate, audit.EventStatusSuccess, actor, id)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"files": fileNames(before.Files)},
		After:  map[string]interface{}{"files": fileNames(after.Files)},
	}
	s.recorder.Record(ctx, event)
	s.log(ctx, actor, id).WithField("files", len(files)).Info("Task attachments updated")

	return after, nil
}

func diffFiles(before, after []File) (added, removed []string) {
	had := make(map[string]bool, len(before))
	for _, f := range before {
		had[f.Name] = true
	}
	has := make(map[string]bool, len(after))
	for _, f := range after {
		has[f.Name] = true
		if !had[f.Name] {
			added = append(added, f.Name)
		}
	}
	for _, f := range before {
		if !has[f.Name] {
			removed = append(removed, f.Name)
		}
	}
	return added, removed
}

func fileNames(files []File) []interface{} {
	out := make([]interface{}, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

// Comment appends a "commented" entry. Anyone who can see the task may
// comment on it.
func (s *Service) Comment(ctx context.Context, actor users.User, id, text string) (Activity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Activity{}, ErrEmptyComment
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return Activity{}, err
	}

	entry := s.appender.Entry(actor, ActionCommented, text)
	if _, err := s.appender.Append(ctx, id, nil, entry); err != nil {
		return Activity{}, err
	}

	event := s.event(ctx, audit.EventTypeTaskComment, audit.EventStatusSuccess, actor, id)
	event.Metadata["activity_id"] = entry.ID
	s.recorder.Record(ctx, event)

	return entry, nil
}

// Delete removes a task and its activity
func (s *Service) Delete(ctx context.Context, actor users.User, id string) error {
	if err := s.authorize(ctx, actor, rbac.ActionDeleteTasks, id); err != nil {
		return err
	}
	before, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, Ref(id)); err != nil {
		if docstore.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	event := s.event(ctx, audit.EventTypeTaskDelete, audit.EventStatusSuccess, actor, id)
	event.Changes = &audit.ChangeDetails{Before: auditFields(before)}
	s.recorder.Record(ctx, event)
	s.log(ctx, actor, id).Info("Task deleted")

	return nil
}

// Get returns one task if the actor may view it
func (s *Service) Get(ctx context.Context, actor users.User, id string) (Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionViewTasks, id); err != nil {
		return Task{}, err
	}
	doc, err := s.store.Get(ctx, Ref(id))
	if err != nil {
		if docstore.IsNotFound(err) {
			return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return Task{}, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	t, err := Normalize(doc)
	if err != nil {
		return Task{}, err
	}
	if !VisibleTo(t, actor) {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// ListVisible returns the tasks the actor may see, newest first
func (s *Service) ListVisible(ctx context.Context, actor users.User) ([]Task, error) {
	if err := s.authorize(ctx, actor, rbac.ActionViewTasks, ""); err != nil {
		return nil, err
	}
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return Visible(all, actor), nil
}

func (s *Service) listAll(ctx context.Context) ([]Task, error) {
	docs, err := s.store.List(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	all, malformed := NormalizeAll(docs)
	if malformed > 0 {
		s.metrics.Malformed(Collection, malformed)
		observability.FromContext(ctx).WithField("malformed", malformed).Warn("Skipping malformed task data")
	}
	return all, nil
}

// Summary totals the financial fields of the tasks the actor may see
func (s *Service) Summary(ctx context.Context, actor users.User, filter SummaryFilter) (Summary, error) {
	if err := s.authorize(ctx, actor, rbac.ActionViewFinancials, ""); err != nil {
		return nil, err
	}
	visible, err := s.ListVisible(ctx, actor)
	if err != nil {
		return nil, err
	}
	return Summarize(visible, filter), nil
}

// auditFields is the subset of a task recorded in audit change details
func auditFields(t Task) map[string]interface{} {
	m := map[string]interface{}{
		"title":  t.Title,
		"status": string(t.Status),
	}
	if t.Assignee != nil {
		m["assignee"] = t.Assignee.ID
	}
	if t.Priority != "" {
		m["priority"] = string(t.Priority)
	}
	return m
}
