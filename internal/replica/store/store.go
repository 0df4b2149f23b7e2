package store

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Entry is one key/value pair written by Put.
type Entry struct {
	Key   string
	Value []byte
}

// Change is delivered by Watch when a key is written or deleted.
type Change struct {
	Key string
	// Value is nil when the key was deleted.
	Value []byte
}

// Store is durable key/value storage shared by the contexts of one device.
type Store interface {
	// Get returns the value of key, or schema.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes all entries. Entries are applied in order; backends that
	// support transactions apply them atomically.
	Put(ctx context.Context, entries ...Entry) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Watch streams changes of key until ctx is done, then closes the channel.
	Watch(ctx context.Context, key string) (<-chan Change, error)

	// Close releases the backend.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open creates the store backend named by driver.
// path is a directory for the file driver and a database file for sqlite;
// it is ignored by the memory driver.
func Open(driver, path string, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return OpenFileStore(path, logger)
	case DriverSQLite:
		return OpenSQLiteStore(path, &SQLiteOptions{Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// offer delivers c on ch, replacing a pending undelivered change.
// The caller must be the only sender on ch.
func offer(ch chan Change, c Change) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
