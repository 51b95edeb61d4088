package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Collection is the document collection holding tasks
const Collection = "tasks"

// ErrMalformedRecord is returned by Normalize for documents whose shape
// cannot be interpreted as a task at all
var ErrMalformedRecord = errors.New("malformed task record")

// Status is a task's workflow state
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusToHold     Status = "To hold"
	StatusOverdue    Status = "Overdue"
)

// Statuses returns every known status
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusToHold, StatusOverdue}
}

// ParseStatus resolves a status case-insensitively
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses() {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return Status(s), false
}

// Priority is a task's urgency
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// DefaultCurrency is assumed for amounts stored without a currency code
const DefaultCurrency = "USD"

// File describes an attachment. Upload and storage of the content happen
// elsewhere; tasks only keep the descriptor.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
	Type string `json:"type,omitempty"`
}

// Activity is one entry of a task's append-only history. User is a copy of
// the actor at the time of the action and is never refreshed.
type Activity struct {
	ID        string     `json:"id"`
	User      users.User `json:"user"`
	Action    string     `json:"action"`
	Details   string     `json:"details,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Digest    string     `json:"digest,omitempty"`
}

// Task is a normalized task record
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Label       string      `json:"label,omitempty"`
	Status      Status      `json:"status"`
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
	Period           string `json:"period"`

	InitialDemand              float64 `json:"initialDemand"`
	InitialDemandCurrency      string  `json:"initialDemandCurrency,omitempty"`
	OfficialSettlement         float64 `json:"officialSettlement"`
	OfficialSettlementCurrency string  `json:"officialSettlementCurrency,omitempty"`
	Motivation                 float64 `json:"motivation"`
	MotivationCurrency         string  `json:"motivationCurrency,omitempty"`

	Files     []File       `json:"files"`
	Activity  []Activity   `json:"activity"`
	Viewers   []users.User `json:"viewers"`
	CreatorID string       `json:"creatorId,omitempty"`

	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Ref returns the document reference of task id
func Ref(id string) docstore.Ref {
	return docstore.NewRef(Collection, id)
}

// Amount is a monetary amount that decodes from JSON numbers and numeric
// strings alike. Anything else decodes to zero.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Amount(ParseAmount(v))
	return nil
}

// ParseAmount coerces a stored amount to a number. Missing, empty and
// unparseable values become 0.
func ParseAmount(v interface{}) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// dateLayouts are tried in order for string timestamps
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime reduces the timestamp shapes found in stored tasks to one
// instant: RFC3339 strings, {seconds, nanoseconds} objects, unix
// milliseconds and time.Time. ok is false for missing or unparseable values.
func ParseTime(v interface{}) (t time.Time, ok bool) {
	switch tv := v.(type) {
	case time.Time:
		if tv.IsZero() {
			return time.Time{}, false
		}
		return tv.UTC(), true
	case *time.Time:
		if tv == nil {
			return time.Time{}, false
		}
		return ParseTime(*tv)
	case string:
		s := strings.TrimSpace(tv)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(tv) || math.IsInf(tv, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(tv)).UTC(), true
	case int64:
		return time.UnixMilli(tv).UTC(), true
	case map[string]interface{}:
		secs, ok := firstNumber(tv, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := firstNumber(tv, "nanoseconds", "_nanoseconds")
		return time.Unix(int64(secs), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}

func firstNumber(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// Normalize converts a stored document into a Task. Activity is returned in
// chronological order. Unparseable dates are left unset, unparseable
// amounts become zero and list elements that are not objects are skipped;
// only a document whose structure is wrong (a text field holding an
// object, a list that is not a list) is rejected with ErrMalformedRecord.
func Normalize(doc *docstore.Document) (Task, error) {
	t, _, err := normalize(doc)
	return t, err
}

// normalize is Normalize that also reports how many list elements it skipped
func normalize(doc *docstore.Document) (Task, int, error) {
	if doc == nil || doc.ID == "" {
		return Task{}, 0, fmt.Errorf("%w: missing document id", ErrMalformedRecord)
	}
	d := decoder{data: doc.Data}
	if d.data == nil {
		d.data = map[string]interface{}{}
	}

	t := Task{
		ID:          doc.ID,
		Title:       d.str("title"),
		Label:       d.str("label"),
		Status:      Status(d.str("status")),
		Priority:    Priority(d.str("priority")),
		Description: d.str("description"),

		DueDate:      d.time("dueDate"),
		EntryDate:    d.time("entryDate"),
		ReceivedDate: d.time("receivedDate"),

		Department:       d.str("department"),
		Sender:           d.str("sender"),
		SenderLocation:   d.str("senderLocation"),
		Receiver:         d.str("receiver"),
		ReceiverLocation: d.str("receiverLocation"),
		Period:           d.str("period"),

		InitialDemand:              ParseAmount(d.data["initialDemand"]),
		InitialDemandCurrency:      d.str("initialDemandCurrency"),
		OfficialSettlement:         ParseAmount(d.data["officialSettlement"]),
		OfficialSettlementCurrency: d.str("officialSettlementCurrency"),
		Motivation:                 ParseAmount(d.data["motivation"]),
		MotivationCurrency:         d.str("motivationCurrency"),

		CreatorID: d.str("creatorId"),
		UpdatedAt: d.time("updatedAt"),
	}

	if status, ok := ParseStatus(string(t.Status)); ok {
		t.Status = status
	} else if t.Status == "" {
		t.Status = StatusPending
	}

	t.CreatedAt = d.time("createdAt")
	if t.CreatedAt == nil {
		t.CreatedAt = t.EntryDate
	}
	if t.CreatedAt == nil && !doc.UpdatedAt.IsZero() {
		ts := doc.UpdatedAt.UTC()
		t.CreatedAt = &ts
	}

	if m := d.object("assignee"); m != nil {
		a := users.FromData("", m)
		t.Assignee = &a
	}
	t.Viewers = []users.User{}
	for _, m := range d.objects("viewers") {
		t.Viewers = append(t.Viewers, users.FromData("", m))
	}
	t.Files = []File{}
	for _, m := range d.objects("files") {
		t.Files = append(t.Files, decodeFile(m))
	}
	t.Activity = []Activity{}
	for _, m := range d.objects("activity") {
		t.Activity = append(t.Activity, decodeActivity(m))
	}
	SortActivity(t.Activity)

	if d.err != nil {
		return Task{}, 0, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, doc.ID, d.err)
	}
	return t, d.skipped, nil
}

// NormalizeAll normalizes docs, dropping the malformed ones. malformed
// counts the dropped documents plus the list elements skipped inside the
// kept ones. The result is ordered newest first.
func NormalizeAll(docs []*docstore.Document) (tasks []Task, malformed int) {
	tasks = make([]Task, 0, len(docs))
	for _, doc := range docs {
		t, skipped, err := normalize(doc)
		if err != nil {
			malformed++
			continue
		}
		malformed += skipped
		tasks = append(tasks, t)
	}
	SortNewestFirst(tasks)
	return tasks, malformed
}

// SortNewestFirst orders tasks by creation time, newest first. Tasks without
// a creation time sort last; ties are broken by id, highest first.
func SortNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ci, cj := tasks[i].CreatedAt, tasks[j].CreatedAt
		switch {
		case ci == nil && cj == nil:
			return tasks[i].ID > tasks[j].ID
		case ci == nil:
			return false
		case cj == nil:
			return true
		case !ci.Equal(*cj):
			return ci.After(*cj)
		}
		return tasks[i].ID > tasks[j].ID
	})
}

func decodeFile(m map[string]interface{}) File {
	f := File{
		Name: stringValue(m["name"]),
		URL:  stringValue(m["url"]),
		Type: stringValue(m["type"]),
	}
	if size := ParseAmount(m["size"]); size > 0 {
		f.Size = int64(size)
	}
	return f
}

func decodeActivity(m map[string]interface{}) Activity {
	a := Activity{
		ID:      stringValue(m["id"]),
		Action:  stringValue(m["action"]),
		Details: stringValue(m["details"]),
		Digest:  stringValue(m["digest"]),
	}
	if um, ok := m["user"].(map[string]interface{}); ok {
		a.User = users.FromData("", um)
	}
	if ts, ok := ParseTime(m["timestamp"]); ok {
		a.Timestamp = ts
	}
	return a
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// decoder reads typed fields from document data and remembers the first
// structural mismatch
type decoder struct {
	data    map[string]interface{}
	err     error
	skipped int
}

func (d *decoder) fail(key, want string) {
	if d.err == nil {
		d.err = fmt.Errorf("field %s: expected %s, got %T", key, want, d.data[key])
	}
}

func (d *decoder) str(key string) string {
	switch v := d.data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	}
	d.fail(key, "string")
	return ""
}

func (d *decoder) time(key string) *time.Time {
	t, ok := ParseTime(d.data[key])
	if !ok {
		return nil
	}
	return &t
}

func (d *decoder) object(key string) map[string]interface{} {
	switch v := d.data[key].(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	}
	d.fail(key, "object")
	return nil
}

func (d *decoder) objects(key string) []map[string]interface{} {
	var items []interface{}
	switch v := d.data[key].(type) {
	case nil:
		return nil
	case []interface{}:
		items = v
	default:
		d.fail(key, "list")
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			d.skipped++
			continue
		}
		out = append(out, m)
	}
	return out
}

// ToDocument converts a task to its stored shape. Times are written as
// RFC3339 strings; unset optional fields are omitted.
func ToDocument(t Task) map[string]interface{} {
	data := map[string]interface{}{
		"title":              t.Title,
		"status":             string(t.Status),
		"period":             t.Period,
		"initialDemand":      t.InitialDemand,
		"officialSettlement": t.OfficialSettlement,
		"motivation":         t.Motivation,
		"files":              filesToData(t.Files),
		"activity":           activityToData(t.Activity),
		"viewers":            usersToData(t.Viewers),
	}
	optional := map[string]string{
		"label":                      t.Label,
		"priority":                   string(t.Priority),
		"description":                t.Description,
		"department":                 t.Department,
		"sender":                     t.Sender,
		"senderLocation":             t.SenderLocation,
		"receiver":                   t.Receiver,
		"receiverLocation":           t.ReceiverLocation,
		"initialDemandCurrency":      t.InitialDemandCurrency,
		"officialSettlementCurrency": t.OfficialSettlementCurrency,
		"motivationCurrency":         t.MotivationCurrency,
		"creatorId":                  t.CreatorID,
	}
	for k, v := range optional {
		if v != "" {
			data[k] = v
		}
	}
	times := map[string]*time.Time{
		"dueDate":      t.DueDate,
		"entryDate":    t.EntryDate,
		"receivedDate": t.ReceivedDate,
		"createdAt":    t.CreatedAt,
		"updatedAt":    t.UpdatedAt,
	}
	for k, v := range times {
		if v != nil {
			data[k] = FormatTime(*v)
		}
	}
	if t.Assignee != nil {
		data["assignee"] = t.Assignee.Snapshot()
	}
	return data
}

// FormatTime renders the canonical stored form of an instant
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func filesToData(files []File) []interface{} {
	out := make([]interface{}, 0, len(files))
	for _, f := range files {
		m := map[string]interface{}{"name": f.Name, "url": f.URL}
		if f.Size > 0 {
			m["size"] = float64(f.Size)
		}
		if f.Type != "" {
			m["type"] = f.Type
		}
		out = append(out, m)
	}
	return out
}

func activityToData(entries []Activity) []interface{} {
	out := make([]interface{}, 0, len(entries))
	for _, a := range entries {
		out = append(out, a.toData())
	}
	return out
}

func (a Activity) toData() map[string]interface{} {
	m := map[string]interface{}{
		"id":        a.ID,
		"user":      a.User.Snapshot(),
		"action":    a.Action,
		"timestamp": FormatTime(a.Timestamp),
	}
	if a.Details != "" {
		m["details"] = a.Details
	}
	if a.Digest != "" {
		m["digest"] = a.Digest
	}
	return m
}

func usersToData(list []users.User) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, u := range list {
		out = append(out, u.Snapshot())
	}
	return out
}
