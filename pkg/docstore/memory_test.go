package docstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/docstoretest"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

func TestMemoryStore_Conformance(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.NewMemoryStore(nil)
	})
}

func TestInstrumentedStore_Conformance(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.Instrument(docstore.NewMemoryStore(nil), observability.NewMetrics(prometheus.NewRegistry()), "memory")
	})
}

func TestInstrumentedStore_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := docstore.Instrument(docstore.NewMemoryStore(nil), metrics, "memory")
	defer s.Close()

	ctx := context.Background()
	_, err := s.Get(ctx, docstore.NewRef("tasks", "T-001"))
	require.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = docstore.Create(ctx, s, docstore.NewRef("tasks", "T-001"), map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("get", "memory", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("mutate", "memory", "ok")))
	assert.NotNil(t, s.Unwrap())
}

func TestMemoryStore_FailSubscriptions(t *testing.T) {
	s := docstore.NewMemoryStore(nil)
	defer s.Close()

	var failed atomic.Int32
	var pushes atomic.Int32
	_, err := s.SubscribeCollection("tasks", func([]*docstore.Document) {
		pushes.Add(1)
	}, func(err error) {
		failed.Add(1)
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pushes.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.FailSubscriptions(errors.New("connection reset"))
	assert.Equal(t, int32(1), failed.Load())

	// closed subscriptions see neither further changes nor further errors
	_, err = docstore.Create(context.Background(), s, docstore.NewRef("tasks", "T-001"), nil)
	require.NoError(t, err)
	s.FailSubscriptions(errors.New("again"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), pushes.Load())
	assert.Equal(t, int32(1), failed.Load())
}

func TestMemoryStore_InvalidRef(t *testing.T) {
	s := docstore.NewMemoryStore(nil)
	defer s.Close()

	_, err := s.Get(context.Background(), docstore.NewRef("", "x"))
	assert.Error(t, err)
	_, err = s.SubscribeDocument(docstore.NewRef("tasks", ""), func(*docstore.Document) {}, nil)
	assert.Error(t, err)
}
