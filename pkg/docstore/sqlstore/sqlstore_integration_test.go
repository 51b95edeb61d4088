//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/docstoretest"
)

// setupPostgresContainer starts a disposable Postgres and returns its DSN
func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tasktrax_test"),
		postgres.WithUsername("tasktrax"),
		postgres.WithPassword("tasktrax_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return dsn, func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}
}

func TestPostgres_Conformance(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		s, err := Open(context.Background(), Config{Dialect: Postgres, DSN: dsn, Listen: true}, nil)
		require.NoError(t, err)
		_, err = s.DB().Exec("DELETE FROM documents")
		require.NoError(t, err)
		return s
	})
}

func TestPostgres_ListenAcrossStores(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()
	ctx := context.Background()

	reader, err := Open(ctx, Config{Dialect: Postgres, DSN: dsn, Listen: true}, nil)
	require.NoError(t, err)
	defer reader.Close()

	writer, err := Open(ctx, Config{Dialect: Postgres, DSN: dsn}, nil)
	require.NoError(t, err)
	defer writer.Close()

	seen := make(chan int, 16)
	unsubscribe, err := reader.SubscribeCollection("tasks", func(docs []*docstore.Document) {
		seen <- len(docs)
	}, nil)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = docstore.Create(ctx, writer, docstore.NewRef("tasks", "T-001"), map[string]interface{}{"title": "a"})
	require.NoError(t, err)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case n := <-seen:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatal("reader never observed the write")
		}
	}
}
