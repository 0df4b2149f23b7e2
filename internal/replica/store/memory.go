package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// MemoryStore is an in-process Store. Every context holding the same
// MemoryStore sees the others' writes, which makes it the natural fake for
// multi-context tests.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string]map[chan Change]struct{}
	closed   bool

	// failPut, when set, makes Put fail. Used to simulate quota errors.
	failPut error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[chan Change]struct{}),
	}
}

// Get implements Store.Get.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}
	v, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, schema.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

// Put implements Store.Put. All entries become visible together.
func (m *MemoryStore) Put(ctx context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}
	if m.failPut != nil {
		return fmt.Errorf("%w: %v", schema.ErrStorageUnavailable, m.failPut)
	}

	for _, e := range entries {
		m.values[e.Key] = append([]byte(nil), e.Value...)
	}
	for _, e := range entries {
		m.notifyLocked(Change{Key: e.Key, Value: append([]byte(nil), e.Value...)})
	}
	return nil
}

// Delete implements Store.Delete.
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}
	for _, k := range keys {
		if _, ok := m.values[k]; !ok {
			continue
		}
		delete(m.values, k)
		m.notifyLocked(Change{Key: k})
	}
	return nil
}

// Watch implements Store.Watch.
func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}

	ch := make(chan Change, 1)
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[chan Change]struct{})
	}
	m.watchers[key][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[key][ch]; ok {
			delete(m.watchers[key], ch)
			close(ch)
		}
	}()

	return ch, nil
}

// Close implements Store.Close. Open watch channels are closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for key, set := range m.watchers {
		for ch := range set {
			close(ch)
		}
		delete(m.watchers, key)
	}
	return nil
}

// SetPutError makes subsequent Puts fail with err (nil restores normal
// operation).
func (m *MemoryStore) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

func (m *MemoryStore) notifyLocked(c Change) {
	for ch := range m.watchers[c.Key] {
		offer(ch, c)
	}
}
