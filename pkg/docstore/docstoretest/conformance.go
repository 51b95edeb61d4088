// Package docstoretest holds a behavioural test suite every docstore backend
// must pass.
package docstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) docstore.Store

const waitTimeout = 5 * time.Second

// Run executes the suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s docstore.Store)
	}{
		{"GetMissing", testGetMissing},
		{"CreateAndGet", testCreateAndGet},
		{"UpdatePatch", testUpdatePatch},
		{"SetMergeAndReplace", testSetMergeAndReplace},
		{"ArrayUnionAndDeleteField", testArrayUnionAndDeleteField},
		{"MutateNilLeavesDocument", testMutateNil},
		{"DeleteAndList", testDeleteAndList},
		{"ConcurrentAppend", testConcurrentAppend},
		{"SubscribeCollection", testSubscribeCollection},
		{"SubscribeDocument", testSubscribeDocument},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), docstore.NewRef("tasks", "T-404"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = docstore.Update(context.Background(), s, docstore.NewRef("tasks", "T-404"), map[string]interface{}{"a": 1})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func testCreateAndGet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("tasks", "T-001")

	created, err := docstore.Create(ctx, s, ref, map[string]interface{}{
		"title":  "Quarterly report",
		"amount": 12,
		"tags":   []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "T-001", created.ID)
	assert.False(t, created.UpdatedAt.IsZero())

	_, err = docstore.Create(ctx, s, ref, map[string]interface{}{"title": "dup"})
	assert.ErrorIs(t, err, docstore.ErrAlreadyExists)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got.Data["title"])
	assert.Equal(t, float64(12), got.Data["amount"])
	assert.Equal(t, []interface{}{"a", "b"}, got.Data["tags"])
}

func testUpdatePatch(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("tasks", "T-001")
	_, err := docstore.Create(ctx, s, ref, map[string]interface{}{
		"title":    "a",
		"status":   "Pending",
		"assignee": map[string]interface{}{"id": "u1", "name": "Ann"},
	})
	require.NoError(t, err)

	_, err = docstore.Update(ctx, s, ref, map[string]interface{}{
		"status":   "Completed",
		"assignee": map[string]interface{}{"id": "u2"},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Data["title"])
	assert.Equal(t, "Completed", got.Data["status"])
	// top-level keys are replaced, not merged
	assert.Equal(t, map[string]interface{}{"id": "u2"}, got.Data["assignee"])
}

func testSetMergeAndReplace(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("settings", "global")

	_, err := docstore.Set(ctx, s, ref, map[string]interface{}{
		"customFields": map[string][]string{"Label": {"Bug"}, "Currency": {"USD"}},
	})
	require.NoError(t, err)

	_, err = docstore.Set(ctx, s, ref, map[string]interface{}{
		"customFields": map[string][]string{"Label": {"Bug", "HR"}},
		"rules":        []interface{}{},
	}, docstore.Merge())
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	fields := got.Data["customFields"].(map[string]interface{})
	assert.Equal(t, []interface{}{"Bug", "HR"}, fields["Label"])
	assert.Equal(t, []interface{}{"USD"}, fields["Currency"])
	assert.Contains(t, got.Data, "rules")

	_, err = docstore.Set(ctx, s, ref, map[string]interface{}{"only": true})
	require.NoError(t, err)
	got, err = s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"only": true}, got.Data)
}

func testArrayUnionAndDeleteField(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("tasks", "T-002")
	_, err := docstore.Create(ctx, s, ref, map[string]interface{}{"activity": []interface{}{}, "tmp": 1})
	require.NoError(t, err)

	entry := map[string]interface{}{"id": "e1", "action": "created task"}
	_, err = docstore.AppendToArray(ctx, s, ref, "activity", []interface{}{entry}, map[string]interface{}{"updatedAt": "now"})
	require.NoError(t, err)
	// equal element is not duplicated
	_, err = docstore.AppendToArray(ctx, s, ref, "activity", []interface{}{entry}, nil)
	require.NoError(t, err)

	_, err = docstore.Update(ctx, s, ref, map[string]interface{}{"tmp": docstore.DeleteField})
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, got.Data["activity"], 1)
	assert.Equal(t, "now", got.Data["updatedAt"])
	assert.NotContains(t, got.Data, "tmp")
}

func testMutateNil(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("tasks", "T-003")
	_, err := docstore.Create(ctx, s, ref, map[string]interface{}{"title": "keep"})
	require.NoError(t, err)

	doc, err := s.Mutate(ctx, ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		assert.True(t, exists)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "keep", doc.Data["title"])

	wantErr := fmt.Errorf("validation failed")
	_, err = s.Mutate(ctx, ref, func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func testDeleteAndList(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for _, id := range []string{"T-003", "T-001", "T-002"} {
		_, err := docstore.Create(ctx, s, docstore.NewRef("tasks", id), map[string]interface{}{"id": id})
		require.NoError(t, err)
	}
	_, err := docstore.Create(ctx, s, docstore.NewRef("users", "u1"), map[string]interface{}{"name": "Ann"})
	require.NoError(t, err)

	docs, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"T-001", "T-002", "T-003"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	require.NoError(t, s.Delete(ctx, docstore.NewRef("tasks", "T-002")))
	assert.ErrorIs(t, s.Delete(ctx, docstore.NewRef("tasks", "T-002")), docstore.ErrNotFound)

	docs, err = s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testConcurrentAppend(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("tasks", "T-010")
	_, err := docstore.Create(ctx, s, ref, map[string]interface{}{"activity": []interface{}{}})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := map[string]interface{}{"id": fmt.Sprintf("e%d", i)}
			if _, err := docstore.AppendToArray(ctx, s, ref, "activity", []interface{}{entry}, nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, got.Data["activity"], writers)
}

func testSubscribeCollection(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	var mu sync.Mutex
	var last []*docstore.Document
	pushes := 0

	unsubscribe, err := s.SubscribeCollection("tasks", func(docs []*docstore.Document) {
		mu.Lock()
		defer mu.Unlock()
		last = docs
		pushes++
	}, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pushes >= 1
	}, waitTimeout, 10*time.Millisecond, "initial snapshot")

	_, err = docstore.Create(ctx, s, docstore.NewRef("tasks", "T-001"), map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	_, err = docstore.Create(ctx, s, docstore.NewRef("users", "u1"), map[string]interface{}{"name": "b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].ID == "T-001"
	}, waitTimeout, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()

	mu.Lock()
	before := pushes
	mu.Unlock()

	_, err = docstore.Create(ctx, s, docstore.NewRef("tasks", "T-002"), map[string]interface{}{"title": "c"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, pushes, "no delivery after unsubscribe")
}

func testSubscribeDocument(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := docstore.NewRef("settings", "global")

	var mu sync.Mutex
	var states []string
	record := func(doc *docstore.Document) {
		mu.Lock()
		defer mu.Unlock()
		if doc == nil {
			states = append(states, "missing")
			return
		}
		states = append(states, fmt.Sprint(doc.Data["v"]))
	}
	lastState := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return ""
		}
		return states[len(states)-1]
	}

	unsubscribe, err := s.SubscribeDocument(ref, record, nil)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool { return lastState() == "missing" }, waitTimeout, 10*time.Millisecond)

	_, err = docstore.Set(ctx, s, ref, map[string]interface{}{"v": 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return lastState() == "1" }, waitTimeout, 10*time.Millisecond)

	// writes to other documents in the collection are not observed as changes
	_, err = docstore.Set(ctx, s, docstore.NewRef("settings", "other"), map[string]interface{}{"v": 9})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ref))
	require.Eventually(t, func() bool { return lastState() == "missing" }, waitTimeout, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, "9")
}

func testClosed(t *testing.T, s docstore.Store) {
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), docstore.NewRef("tasks", "T-001"))
	assert.Error(t, err)
	_, err = s.SubscribeCollection("tasks", func([]*docstore.Document) {}, nil)
	assert.Error(t, err)
}
