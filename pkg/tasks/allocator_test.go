package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// flakyStore fails List while failList is set
type flakyStore struct {
	docstore.Store
	mu       sync.Mutex
	failList error
}

func (f *flakyStore) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	f.mu.Lock()
	err := f.failList
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.List(ctx, collection)
}

func setupAllocatorTest(t *testing.T) (*Allocator, *flakyStore, *observability.Metrics) {
	mem := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { mem.Close() })
	store := &flakyStore{Store: mem}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewAllocator(store, nil, metrics), store, metrics
}

func TestNextID(t *testing.T) {
	assert.Equal(t, "T-005", NextID([]string{"T-001", "T-004", "T-002"}))
	assert.Equal(t, "T-001", NextID(nil))
	assert.Equal(t, "T-003", NextID([]string{"T-002", "legacy-9", "T-x", "t-050", "T-07a"}))
	assert.Equal(t, "T-1000", NextID([]string{"T-999"}))
	assert.Equal(t, "T-1235", NextID([]string{"T-1234", "T-002"}))
}

func TestParseID(t *testing.T) {
	n, ok := ParseID("T-042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	_, ok = ParseID("T-")
	assert.False(t, ok)
	_, ok = ParseID("X-001")
	assert.False(t, ok)
}

func TestAllocator_SequentialReservesHaveNoGaps(t *testing.T) {
	a, _, _ := setupAllocatorTest(t)
	ctx := context.Background()

	var got []int
	for i := 0; i < 12; i++ {
		doc, err := a.Reserve(ctx, func(id string) (map[string]interface{}, error) {
			return map[string]interface{}{"title": id}, nil
		})
		require.NoError(t, err)
		n, ok := ParseID(doc.ID)
		require.True(t, ok)
		got = append(got, n)
	}
	for i, n := range got {
		assert.Equal(t, i+1, n)
	}
}

func TestAllocator_ConcurrentReservesNeverCollide(t *testing.T) {
	a, _, metrics := setupAllocatorTest(t)
	a.maxAttempts = 64
	ctx := context.Background()

	const writers = 10
	ids := make(chan string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := a.Reserve(ctx, func(id string) (map[string]interface{}, error) {
				return map[string]interface{}{"title": "concurrent"}, nil
			})
			if assert.NoError(t, err) {
				ids <- doc.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, writers)
	for i := 1; i <= writers; i++ {
		assert.True(t, seen[FormatID(i)], "missing %s", FormatID(i))
	}
	assert.Equal(t, float64(writers), testutil.ToFloat64(metrics.IDAllocationsTotal.WithLabelValues("ok")))
}

func TestAllocator_ScanFailureWritesNothing(t *testing.T) {
	a, store, metrics := setupAllocatorTest(t)
	ctx := context.Background()
	store.failList = errors.New("backend offline")

	called := false
	_, err := a.Reserve(ctx, func(id string) (map[string]interface{}, error) {
		called = true
		return map[string]interface{}{}, nil
	})
	assert.ErrorIs(t, err, ErrAllocation)
	assert.False(t, called)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IDAllocationsTotal.WithLabelValues("error")))

	_, err = a.NextID(ctx)
	assert.ErrorIs(t, err, ErrAllocation)

	store.failList = nil
	docs, err := store.List(ctx, Collection)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// stealingStore lets another writer take the first candidate id
type stealingStore struct {
	docstore.Store
	once sync.Once
}

func (s *stealingStore) Mutate(ctx context.Context, ref docstore.Ref, fn docstore.MutateFunc) (*docstore.Document, error) {
	s.once.Do(func() {
		_, _ = docstore.Create(ctx, s.Store, ref, map[string]interface{}{"title": "winner"})
	})
	return s.Store.Mutate(ctx, ref, fn)
}

func TestAllocator_RetriesAfterLosingRace(t *testing.T) {
	mem := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { mem.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	a := NewAllocator(&stealingStore{Store: mem}, nil, metrics)

	var candidates []string
	doc, err := a.Reserve(context.Background(), func(id string) (map[string]interface{}, error) {
		candidates = append(candidates, id)
		return map[string]interface{}{"title": "loser"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-001", "T-002"}, candidates)
	assert.Equal(t, "T-002", doc.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IDAllocationRetries))

	winner, err := mem.Get(context.Background(), Ref("T-001"))
	require.NoError(t, err)
	assert.Equal(t, "winner", winner.Data["title"])
}
