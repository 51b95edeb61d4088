package tasks

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Activity verbs written by the service
const (
	ActionCreated       = "created task"
	ActionAssigned      = "assigned to"
	ActionUpdated       = "updated task details"
	ActionStatusChanged = "changed status to"
	ActionCommented     = "commented"
	ActionFileAdded     = "added a file"
	ActionFileDeleted   = "deleted a file"
	ActionMarkedOverdue = "marked overdue"
)

// ActivityField is the task field holding the activity list
const ActivityField = "activity"

// Appender builds activity entries and appends them to tasks. Entries get
// ULID ids, which stay unique and ordered when several are created in the
// same millisecond. With a key configured every entry carries an
// HMAC-SHA256 digest binding it to its task.
type Appender struct {
	store   docstore.Store
	key     []byte
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// NewAppender creates an appender; an empty key disables digests
func NewAppender(store docstore.Store, key []byte, metrics *observability.Metrics) *Appender {
	return &Appender{
		store:   store,
		key:     key,
		metrics: metrics,
		now:     docstore.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Entry builds an unsigned activity entry for user, stamped now
func (a *Appender) Entry(user users.User, action, details string) Activity {
	ts := a.now()
	a.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(ts), a.entropy)
	a.mu.Unlock()
	return Activity{
		ID:        "act-" + strings.ToLower(id.String()),
		User:      user,
		Action:    action,
		Details:   details,
		Timestamp: ts,
	}
}

// Seal signs entries for taskID in place. Without a key it does nothing.
func (a *Appender) Seal(taskID string, entries []Activity) {
	if len(a.key) == 0 {
		return
	}
	for i := range entries {
		entries[i].Digest = a.digest(taskID, entries[i])
	}
}

// Verify reports whether e carries a valid digest for taskID. Without a key
// every entry verifies.
func (a *Appender) Verify(taskID string, e Activity) bool {
	if len(a.key) == 0 {
		return true
	}
	want, err := hex.DecodeString(e.Digest)
	if err != nil || e.Digest == "" {
		return false
	}
	got, _ := hex.DecodeString(a.digest(taskID, e))
	return hmac.Equal(want, got)
}

// VerifyTask returns the ids of entries in t that fail verification
func (a *Appender) VerifyTask(t Task) []string {
	var bad []string
	for _, e := range t.Activity {
		if !a.Verify(t.ID, e) {
			bad = append(bad, e.ID)
		}
	}
	return bad
}

func (a *Appender) digest(taskID string, e Activity) string {
	mac := hmac.New(sha256.New, a.key)
	fields := []string{taskID, e.ID, e.User.ID, e.Action, e.Details, FormatTime(e.Timestamp)}
	mac.Write([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Append seals entries and unions them into the task's activity list,
// bumping updatedAt and applying extra in the same write. The stored list
// is never rewritten from a caller's copy, so concurrent appends all
// survive.
func (a *Appender) Append(ctx context.Context, taskID string, extra map[string]interface{}, entries ...Activity) (*docstore.Document, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no activity to append to %s", taskID)
	}
	a.Seal(taskID, entries)

	patch := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		patch[k] = v
	}
	patch["updatedAt"] = FormatTime(a.now())

	doc, err := docstore.AppendToArray(ctx, a.store, Ref(taskID), ActivityField, activityItems(entries), patch)
	if err != nil {
		if docstore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to append activity to %s: %w", taskID, err)
	}
	for _, e := range entries {
		a.metrics.ActivityAppended(e.Action)
	}
	return doc, nil
}

func activityItems(entries []Activity) []interface{} {
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.toData())
	}
	return items
}

// SortActivity orders entries chronologically. Store order is arrival
// order, which concurrent writers do not keep consistent with timestamps.
func SortActivity(entries []Activity) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}
