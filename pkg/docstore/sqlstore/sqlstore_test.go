package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/docstore/docstoretest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasktrax.db")
	s, err := Open(context.Background(), Config{Dialect: SQLite, DSN: SQLiteDSN(path)}, nil)
	require.NoError(t, err)
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return openSQLite(t)
	})
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasktrax.db")
	ctx := context.Background()

	s, err := Open(ctx, Config{Dialect: SQLite, DSN: SQLiteDSN(path)}, nil)
	require.NoError(t, err)
	_, err = docstore.Create(ctx, s, docstore.NewRef("tasks", "T-001"), map[string]interface{}{"title": "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Dialect: SQLite, DSN: SQLiteDSN(path)}, nil)
	require.NoError(t, err)
	defer s.Close()

	doc, err := s.Get(ctx, docstore.NewRef("tasks", "T-001"))
	require.NoError(t, err)
	assert.Equal(t, "persisted", doc.Data["title"])
}

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", SQLite.rebind("a = ? AND b = ?"))
	assert.Equal(t, "postgres", Postgres.DriverName())
	assert.Equal(t, "sqlite3", SQLite.DriverName())
}

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(db, Postgres, nil)
	return s, mock, func() {
		s.Close()
		db.Close()
	}
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(context.Background()))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnError(errors.New("permission denied"))
	assert.ErrorContains(t, s.Migrate(context.Background()), "failed to create documents table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MutateInsertsAndNotifies(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE")).
		WithArgs("tasks", "T-001").
		WillReturnRows(sqlmock.NewRows([]string{"data", "updated_at"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (collection, id) DO NOTHING")).
		WithArgs("tasks", "T-001", `{"title":"a"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs(NotifyChannel, "tasks/T-001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	doc, err := docstore.Create(context.Background(), s, docstore.NewRef("tasks", "T-001"), map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", doc.Data["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MutateRetriesLostInsertRace(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	lockQuery := regexp.QuoteMeta("SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE")

	// first attempt: row absent, but a concurrent writer inserted it first
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs("tasks", "T-002").
		WillReturnRows(sqlmock.NewRows([]string{"data", "updated_at"}))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// second attempt sees the row and Create reports the conflict
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs("tasks", "T-002").
		WillReturnRows(sqlmock.NewRows([]string{"data", "updated_at"}).AddRow(`{"title":"theirs"}`, int64(1700000000000000)))
	mock.ExpectRollback()

	_, err := docstore.Create(context.Background(), s, docstore.NewRef("tasks", "T-002"), map[string]interface{}{"title": "mine"})
	assert.ErrorIs(t, err, docstore.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateExisting(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("tasks", "T-003").
		WillReturnRows(sqlmock.NewRows([]string{"data", "updated_at"}).AddRow(`{"status":"Pending"}`, int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET data = $1, updated_at = $2 WHERE collection = $3 AND id = $4")).
		WithArgs(`{"status":"Completed"}`, sqlmock.AnyArg(), "tasks", "T-003").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("pg_notify").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := docstore.Update(context.Background(), s, docstore.NewRef("tasks", "T-003"), map[string]interface{}{"status": "Completed"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetAndList(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2")).
		WithArgs("tasks", "T-404").
		WillReturnError(sql.ErrNoRows)
	_, err := s.Get(context.Background(), docstore.NewRef("tasks", "T-404"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, data, updated_at FROM documents WHERE collection = $1 ORDER BY id")).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}).
			AddRow("T-001", `{"title":"a"}`, int64(1)).
			AddRow("T-002", `{"title":"b"}`, int64(2)))
	docs, err := s.List(context.Background(), "tasks")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Data["title"])

	mock.ExpectQuery("SELECT id, data, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}).AddRow("T-003", `{broken`, int64(3)))
	_, err = s.List(context.Background(), "tasks")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete(t *testing.T) {
	s, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE collection = $1 AND id = $2")).
		WithArgs("tasks", "T-001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	assert.ErrorIs(t, s.Delete(context.Background(), docstore.NewRef("tasks", "T-001")), docstore.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").WithArgs("tasks", "T-001").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("pg_notify").WithArgs(NotifyChannel, "tasks/T-001").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	assert.NoError(t, s.Delete(context.Background(), docstore.NewRef("tasks", "T-001")))

	assert.NoError(t, mock.ExpectationsWereMet())
}
