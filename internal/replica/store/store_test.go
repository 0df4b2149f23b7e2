package store

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

var testLogger = log.New(io.Discard, "", 0)

// backend opens two handles on the same underlying storage, the way two
// processes on one device would.
type backend struct {
	name string
	open func(t *testing.T) (Store, Store)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) (Store, Store) {
				s := NewMemoryStore()
				t.Cleanup(func() { _ = s.Close() })
				return s, s
			},
		},
		{
			name: "file",
			open: func(t *testing.T) (Store, Store) {
				dir := t.TempDir()
				a, err := OpenFileStore(dir, testLogger)
				require.NoError(t, err)
				b, err := OpenFileStore(dir, testLogger)
				require.NoError(t, err)
				t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
				return a, b
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) (Store, Store) {
				path := filepath.Join(t.TempDir(), "replica.db")
				opts := &SQLiteOptions{PollInterval: 20 * time.Millisecond, Logger: testLogger}
				a, err := OpenSQLiteStore(path, opts)
				require.NoError(t, err)
				b, err := OpenSQLiteStore(path, opts)
				require.NoError(t, err)
				t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
				return a, b
			},
		},
	}
}

func TestStore_GetPutDelete(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			s, _ := be.open(t)
			ctx := context.Background()

			_, err := s.Get(ctx, "inventory/version")
			assert.True(t, errors.Is(err, schema.ErrNotFound), "got %v", err)

			require.NoError(t, s.Put(ctx,
				Entry{Key: "inventory/snapshot", Value: []byte(`{"records":[]}`)},
				Entry{Key: "inventory/version", Value: []byte("1000")},
			))

			v, err := s.Get(ctx, "inventory/version")
			require.NoError(t, err)
			assert.Equal(t, "1000", string(v))

			require.NoError(t, s.Put(ctx, Entry{Key: "inventory/version", Value: []byte("2000")}))
			v, err = s.Get(ctx, "inventory/version")
			require.NoError(t, err)
			assert.Equal(t, "2000", string(v))

			require.NoError(t, s.Delete(ctx, "inventory/version", "missing"))
			_, err = s.Get(ctx, "inventory/version")
			assert.True(t, errors.Is(err, schema.ErrNotFound))
		})
	}
}

func TestStore_WatchSeesOtherHandle(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			writer, reader := be.open(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			changes, err := reader.Watch(ctx, "tickets/version")
			require.NoError(t, err)

			// Writes to other keys are not delivered.
			require.NoError(t, writer.Put(ctx, Entry{Key: "tickets/snapshot", Value: []byte("{}")}))
			require.NoError(t, writer.Put(ctx, Entry{Key: "tickets/version", Value: []byte("3000")}))

			select {
			case c, ok := <-changes:
				require.True(t, ok)
				assert.Equal(t, "tickets/version", c.Key)
				assert.Equal(t, "3000", string(c.Value))
			case <-time.After(3 * time.Second):
				t.Fatal("timed out waiting for change notification")
			}

			cancel()
			require.Eventually(t, func() bool {
				for {
					select {
					case _, ok := <-changes:
						if !ok {
							return true
						}
					default:
						return false
					}
				}
			}, 3*time.Second, 10*time.Millisecond, "watch channel should close after cancel")
		})
	}
}

func TestMemoryStore_PutError(t *testing.T) {
	s := NewMemoryStore()
	s.SetPutError(errors.New("quota exceeded"))

	err := s.Put(context.Background(), Entry{Key: "k", Value: []byte("v")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrStorageUnavailable))

	s.SetPutError(nil)
	assert.NoError(t, s.Put(context.Background(), Entry{Key: "k", Value: []byte("v")}))
}

func TestMemoryStore_WatchCoalesces(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, "k")
	require.NoError(t, err)

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, s.Put(ctx, Entry{Key: "k", Value: []byte(v)}))
	}

	c := <-changes
	assert.Equal(t, "3", string(c.Value), "only the latest pending change is kept")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("redis", "", testLogger)
	assert.Error(t, err)
}

func TestOpen_Drivers(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(DriverMemory, "", testLogger)
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	s, err = Open(DriverFile, filepath.Join(dir, "kv"), testLogger)
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	s, err = Open(DriverSQLite, filepath.Join(dir, "kv.db"), testLogger)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestFileName_EscapesSeparators(t *testing.T) {
	assert.Equal(t, "inventory%2Fsnapshot.kv", fileName("inventory/snapshot"))
}
