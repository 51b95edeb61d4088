// Package sqlstore implements docstore.Store on a relational database.
//
// Documents live in a single table keyed by (collection, id) with the JSON
// contents in a text column. Postgres (lib/pq) and SQLite (mattn/go-sqlite3)
// are supported. On Postgres every write also issues pg_notify so that a
// LISTEN connection in each process can wake that process's subscribers.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// NotifyChannel is the Postgres channel change notifications are sent on
const NotifyChannel = "tasktrax_changes"

// Dialect selects SQL syntax
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// String returns the dialect name
func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// DriverName returns the database/sql driver for the dialect
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "postgres"
}

// rebind rewrites ? placeholders to $n for Postgres
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (collection, id)
)`

const (
	queryGet    = `SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?`
	queryList   = `SELECT id, data, updated_at FROM documents WHERE collection = ? ORDER BY id`
	queryInsert = `INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`
	queryUpdate = `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`
	queryDelete = `DELETE FROM documents WHERE collection = ? AND id = ?`
	queryNotify = `SELECT pg_notify(?, ?)`
)

// Config configures Open
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Listen starts a LISTEN connection for cross-process change
	// notifications. Postgres only.
	Listen bool
}

// SQLiteDSN builds a DSN for a SQLite file with immediate write transactions
func SQLiteDSN(path string) string {
	return "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Store is a SQL-backed docstore.Store
type Store struct {
	db         *sql.DB
	ownsDB     bool
	dialect    Dialect
	hub        *docstore.Hub
	logger     *observability.Logger
	maxRetries int

	listener *pq.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open connects, migrates the schema and optionally starts the listener
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Dialect, err)
	}

	if cfg.Dialect == SQLite {
		// one writer at a time; readers share the same connection
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Dialect, err)
	}

	s := New(db, cfg.Dialect, logger)
	s.ownsDB = true

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Listen && cfg.Dialect == Postgres {
		if err := s.listen(cfg.DSN); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// New wraps an existing handle. The caller keeps ownership of db and is
// responsible for calling Migrate.
func New(db *sql.DB, dialect Dialect, logger *observability.Logger) *Store {
	logger = observability.OrNop(logger).WithFields(map[string]interface{}{
		"component": "sqlstore",
		"dialect":   dialect.String(),
	})
	return &Store{
		db:         db,
		dialect:    dialect,
		hub:        docstore.NewHub(logger),
		logger:     logger,
		maxRetries: 10,
	}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the documents table if needed
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) load(ctx context.Context, q queryer, ref docstore.Ref, lock bool) (*docstore.Document, error) {
	query := queryGet
	if lock && s.dialect == Postgres {
		query += " FOR UPDATE"
	}

	var data string
	var updated int64
	err := q.QueryRowContext(ctx, s.dialect.rebind(query), ref.Collection, ref.ID).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}

	decoded, err := docstore.DecodeData([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	return &docstore.Document{
		Collection: ref.Collection,
		ID:         ref.ID,
		Data:       decoded,
		UpdatedAt:  time.UnixMicro(updated).UTC(),
	}, nil
}

// Get implements docstore.Store
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, ref, false)
}

// List implements docstore.Store
func (s *Store) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(queryList), collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []*docstore.Document{}
	for rows.Next() {
		var id, data string
		var updated int64
		if err := rows.Scan(&id, &data, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		decoded, err := docstore.DecodeData([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
		}
		docs = append(docs, &docstore.Document{
			Collection: collection,
			ID:         id,
			Data:       decoded,
			UpdatedAt:  time.UnixMicro(updated).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return docs, nil
}

// errInsertRace signals that another writer created the row first
var errInsertRace = errors.New("insert lost race")

// Mutate implements docstore.Store. The row is locked for the duration of
// fn on Postgres; SQLite transactions begin IMMEDIATE and so serialize.
func (s *Store) Mutate(ctx context.Context, ref docstore.Ref, fn docstore.MutateFunc) (*docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		doc, written, err := s.mutateOnce(ctx, ref, fn)
		if errors.Is(err, errInsertRace) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if written {
			s.hub.Notify(ref.Collection, ref.ID)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("mutate %s: %w", ref, docstore.ErrConflict)
}

func (s *Store) mutateOnce(ctx context.Context, ref docstore.Ref, fn docstore.MutateFunc) (*docstore.Document, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.load(ctx, tx, ref, true)
	exists := true
	if errors.Is(err, docstore.ErrNotFound) {
		exists = false
	} else if err != nil {
		return nil, false, err
	}

	data := map[string]interface{}{}
	if exists {
		data = current.Data
	}
	next, err := fn(data, exists)
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		if !exists {
			return nil, false, docstore.ErrNotFound
		}
		return current, false, nil
	}

	payload, err := docstore.EncodeData(next)
	if err != nil {
		return nil, false, err
	}
	now := docstore.Now()

	if exists {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(queryUpdate), string(payload), now.UnixMicro(), ref.Collection, ref.ID); err != nil {
			return nil, false, fmt.Errorf("failed to update %s: %w", ref, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, s.dialect.rebind(queryInsert), ref.Collection, ref.ID, string(payload), now.UnixMicro())
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert %s: %w", ref, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, false, errInsertRace
		}
	}

	if err := s.notify(ctx, tx, ref); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit %s: %w", ref, err)
	}

	stored, err := docstore.DecodeData(payload)
	if err != nil {
		return nil, false, err
	}
	return &docstore.Document{Collection: ref.Collection, ID: ref.ID, Data: stored, UpdatedAt: now}, true, nil
}

func (s *Store) notify(ctx context.Context, tx *sql.Tx, ref docstore.Ref) error {
	if s.dialect != Postgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(queryNotify), NotifyChannel, ref.String()); err != nil {
		return fmt.Errorf("failed to notify change of %s: %w", ref, err)
	}
	return nil
}

// Delete implements docstore.Store
func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(queryDelete), ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	if err := s.notify(ctx, tx, ref); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", ref, err)
	}

	s.hub.Notify(ref.Collection, ref.ID)
	return nil
}

// SubscribeCollection implements docstore.Store
func (s *Store) SubscribeCollection(collection string, onChange func([]*docstore.Document), onError func(error)) (docstore.Unsubscribe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(collection, "", docstore.CollectionLoader(s, collection, onChange), onError)
}

// SubscribeDocument implements docstore.Store
func (s *Store) SubscribeDocument(ref docstore.Ref, onChange func(*docstore.Document), onError func(error)) (docstore.Unsubscribe, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ref.Collection, ref.ID, docstore.DocumentLoader(s, ref, onChange), onError)
}

// listen opens a LISTEN connection and forwards notifications to the hub
func (s *Store) listen(dsn string) error {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			s.logger.WithError(err).Warn("change listener disconnected")
			s.hub.Fail(fmt.Errorf("postgres change feed: %w", err))
		case pq.ListenerEventReconnected:
			s.logger.Info("change listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			s.logger.WithError(err).Warn("change listener reconnect failed")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	s.listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.consume(ctx)
	return nil
}

func (s *Store) consume(ctx context.Context) {
	defer s.wg.Done()
	defer observability.RecoverPanic(s.logger, "postgres change feed")

	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected; notifications may have been missed
				s.hub.Notify("", "")
				continue
			}
			collection, id, _ := strings.Cut(n.Extra, "/")
			s.hub.Notify(collection, id)
		case <-ticker.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.WithError(err).Debug("change listener ping failed")
			}
		}
	}
}

// Ping implements docstore.Store
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close stops the listener and closes the database if the store owns it
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		s.cancel()
		err = s.listener.Close()
		s.wg.Wait()
	}
	s.hub.Close()

	if s.ownsDB {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
