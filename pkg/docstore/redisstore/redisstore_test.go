package redisstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/docstoretest"
)

// setupRedisStoreTest creates a miniredis instance and a store on it
func setupRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	s, err := New(context.Background(), Config{Addr: mr.Addr(), PoolSize: 10}, nil)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create redis store: %v", err)
	}

	cleanup := func() {
		s.Close()
		mr.Close()
	}
	return s, mr, cleanup
}

func TestStore_Conformance(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		s, _, cleanup := setupRedisStoreTest(t)
		t.Cleanup(cleanup)
		return s
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	_, err := docstore.Create(context.Background(), s, docstore.NewRef("tasks", "T-001"), map[string]interface{}{"title": "a"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("tasktrax:doc:tasks:T-001"))
	members, err := mr.Members("tasktrax:col:tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"T-001"}, members)

	require.NoError(t, s.Delete(context.Background(), docstore.NewRef("tasks", "T-001")))
	assert.False(t, mr.Exists("tasktrax:doc:tasks:T-001"))
}

func TestStore_CrossProcessNotification(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	reader, err := New(context.Background(), Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer reader.Close()

	writer, err := New(context.Background(), Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer writer.Close()

	var count atomic.Int32
	unsubscribe, err := reader.SubscribeCollection("tasks", func(docs []*docstore.Document) {
		count.Store(int32(len(docs)))
	}, nil)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = docstore.Create(context.Background(), writer, docstore.NewRef("tasks", "T-001"), map[string]interface{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return count.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestStore_CorruptDocument(t *testing.T) {
	s, mr, cleanup := setupRedisStoreTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("tasktrax:doc:tasks:T-009", "{not json"))
	_, err := s.Get(context.Background(), docstore.NewRef("tasks", "T-009"))
	assert.Error(t, err)
}

func TestNewWithClient_SharedClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewWithClient(context.Background(), client, Config{Prefix: "test:"}, nil)
	require.NoError(t, err)

	_, err = docstore.Set(context.Background(), s, docstore.NewRef("settings", "global"), map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:doc:settings:global"))

	require.NoError(t, s.Close())
	// the caller still owns the client
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
