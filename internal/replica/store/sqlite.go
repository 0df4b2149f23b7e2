package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	// PollInterval is how often Watch checks the key for new writes
	// (default: 250ms).
	PollInterval time.Duration

	// BusyTimeout bounds how long a writer waits for another process's lock
	// (default: 5s).
	BusyTimeout time.Duration

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// SQLiteStore is a Store backed by an embedded SQLite database in WAL mode,
// so several processes on one device can read while one writes.
//
// Every Put bumps a per-key revision, which Watch polls. Polling is used
// because SQLite offers no cross-process change notification.
type SQLiteStore struct {
	conn    *sql.DB
	path    string
	options SQLiteOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenSQLiteStore opens the database at path, creating it and its schema if
// needed. The caller MUST call Close() when done.
func OpenSQLiteStore(path string, opts *SQLiteOptions) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	var options SQLiteOptions
	if opts != nil {
		options = *opts
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 250 * time.Millisecond
	}
	if options.BusyTimeout <= 0 {
		options.BusyTimeout = 5 * time.Second
	}
	if options.Logger == nil {
		options.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", schema.ErrStorageUnavailable, err)
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_txlock=immediate",
		path, options.BusyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", schema.ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", schema.ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteStore{
		conn:    conn,
		path:    path,
		options: options,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the kv table. Idempotent.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", schema.ErrStorageUnavailable, err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, schema.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	return value, nil
}

// Put implements Store.Put. All entries commit in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", schema.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		value := e.Value
		if value == nil {
			value = []byte{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, revision, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				revision = kv.revision + 1,
				updated_at = excluded.updated_at`,
			e.Key, value, now)
		if err != nil {
			return fmt.Errorf("%w: failed to write %s: %v", schema.ErrStorageUnavailable, e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", schema.ErrStorageUnavailable, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("%w: failed to delete %s: %v", schema.ErrStorageUnavailable, k, err)
		}
	}
	return nil
}

// Watch implements Store.Watch by polling the key's revision.
func (s *SQLiteStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}

	last, _, err := s.revision(ctx, key)
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ch)

		ticker := time.NewTicker(s.options.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				rev, value, err := s.revision(ctx, key)
				if err != nil {
					if ctx.Err() == nil && s.ctx.Err() == nil {
						s.options.Logger.Printf("Warning: failed to poll %s: %v", key, err)
					}
					continue
				}
				if rev == last {
					continue
				}
				last = rev
				offer(ch, Change{Key: key, Value: value})
			}
		}
	}()

	return ch, nil
}

// revision returns the key's revision and value. A missing key has
// revision 0 and a nil value.
func (s *SQLiteStore) revision(ctx context.Context, key string) (int64, []byte, error) {
	var (
		rev   int64
		value []byte
	)
	err := s.conn.QueryRowContext(ctx, `SELECT revision, value FROM kv WHERE key = ?`, key).Scan(&rev, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read revision of %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	return rev, value, nil
}

// Close stops watches and closes the database.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *SQLiteStore) Close() error {
	s.cancel()
	s.wg.Wait()

	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.options.Logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}
