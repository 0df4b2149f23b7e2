package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

const (
	fileExt    = ".kv"
	tempPrefix = ".tmp-"
)

// FileStore keeps one file per key inside a directory.
//
// Writes go to a temporary file that is renamed over the target, so readers
// in other processes never observe a partially written value. Watch uses
// fsnotify on the directory and reacts to the rename landing on the key's
// file.
type FileStore struct {
	dir    string
	logger *log.Logger

	mu       sync.Mutex
	watchers []*fileWatcher
	closed   bool
}

// OpenFileStore opens (creating if needed) a FileStore rooted at dir.
func OpenFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create store directory: %v", schema.ErrStorageUnavailable, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	return &FileStore{dir: abs, logger: logger}, nil
}

// Dir returns the directory holding the key files.
func (s *FileStore) Dir() string {
	return s.dir
}

// fileName maps a key to its file name. Keys may contain '/'.
func fileName(key string) string {
	return url.PathEscape(key) + fileExt
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

// Get implements Store.Get.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, schema.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	return data, nil
}

// Put implements Store.Put. Entries are renamed into place in order.
func (s *FileStore) Put(ctx context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeFile(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeFile(key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to sync %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to commit %s: %v", schema.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := os.Remove(s.path(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: failed to delete %s: %v", schema.ErrStorageUnavailable, k, err)
		}
	}
	return nil
}

// Watch implements Store.Watch.
func (s *FileStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: store closed", schema.ErrStorageUnavailable)
	}

	fw, err := newFileWatcher(s, key)
	if err != nil {
		return nil, err
	}
	s.watchers = append(s.watchers, fw)

	go func() {
		select {
		case <-ctx.Done():
		case <-fw.done:
		}
		fw.stop()
		s.removeWatcher(fw)
	}()

	return fw.changes, nil
}

// WatchCount returns the number of open watches.
func (s *FileStore) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *FileStore) removeWatcher(fw *fileWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w == fw {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// Close implements Store.Close. Open watches are stopped.
func (s *FileStore) Close() error {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.closed = true
	s.mu.Unlock()

	for _, fw := range watchers {
		fw.stop()
	}
	return nil
}

// fileWatcher converts fsnotify events on one key file into Changes.
type fileWatcher struct {
	store   *FileStore
	key     string
	name    string
	watcher *fsnotify.Watcher
	changes chan Change
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newFileWatcher(s *FileStore, key string) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch store directory %s: %w", s.dir, err)
	}

	fw := &fileWatcher{
		store:   s,
		key:     key,
		name:    fileName(key),
		watcher: watcher,
		changes: make(chan Change, 1),
		done:    make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.processEvents()
	return fw, nil
}

// stop closes the fsnotify watcher, waits for the event loop, then closes
// the changes channel. Safe to call more than once.
func (fw *fileWatcher) stop() {
	fw.once.Do(func() {
		close(fw.done)
		if err := fw.watcher.Close(); err != nil {
			fw.store.logger.Printf("Error closing watcher for %s: %v", fw.key, err)
		}
		fw.wg.Wait()
		close(fw.changes)
	})
}

func (fw *fileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if change, ok := fw.convertEvent(event); ok {
				offer(fw.changes, change)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.store.logger.Printf("Watcher error on %s: %v", fw.key, err)
		}
	}
}

// convertEvent returns the Change for an event on the watched key file.
// Temp files and other keys are ignored.
func (fw *fileWatcher) convertEvent(event fsnotify.Event) (Change, bool) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, tempPrefix) || base != fw.name {
		return Change{}, false
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Change{Key: fw.key}, true
			}
			fw.store.logger.Printf("Warning: failed to read %s after change: %v", fw.key, err)
			return Change{}, false
		}
		return Change{Key: fw.key, Value: data}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return Change{Key: fw.key}, true
	default:
		return Change{}, false
	}
}
