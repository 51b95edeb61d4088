package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_CoalescesAndOrders(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var version atomic.Int64
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int64

	first := true
	_, err := hub.Subscribe("tasks", "", func(ctx context.Context) (func(), error) {
		if first {
			first = false
			<-release
		}
		v := version.Load()
		return func() {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}, nil
	}, nil)
	require.NoError(t, err)

	// many notifications while the first load is blocked collapse into one
	for i := 1; i <= 50; i++ {
		version.Store(int64(i))
		hub.Notify("tasks", "T-001")
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == 50
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), 2)
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i-1], seen[i])
	}
}

func TestHub_LoadErrorClosesSubscription(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	errCh := make(chan error, 2)
	_, err := hub.Subscribe("tasks", "", func(ctx context.Context) (func(), error) {
		return nil, errors.New("backend unavailable")
	}, func(err error) { errCh <- err })
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.EqualError(t, err, "backend unavailable")
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CallbackPanicDoesNotKillSubscription(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var calls atomic.Int32
	_, err := hub.Subscribe("tasks", "", func(ctx context.Context) (func(), error) {
		return func() {
			if calls.Add(1) == 1 {
				panic("subscriber bug")
			}
		}, nil
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	hub.Notify("tasks", "")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_DocumentFilter(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var loads atomic.Int32
	_, err := hub.Subscribe("settings", "global", func(ctx context.Context) (func(), error) {
		loads.Add(1)
		return func() {}, nil
	}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify("settings", "other")
	hub.Notify("tasks", "global")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), loads.Load())

	hub.Notify("settings", "global")
	require.Eventually(t, func() bool { return loads.Load() == 2 }, time.Second, 5*time.Millisecond)

	hub.Notify("", "")
	require.Eventually(t, func() bool { return loads.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestHub_Closed(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	hub.Close()

	_, err := hub.Subscribe("tasks", "", func(ctx context.Context) (func(), error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
