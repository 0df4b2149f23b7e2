package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// Keys are the well-known store keys of one collection.
type Keys struct {
	Snapshot string
	Version  string
	Pending  string
}

// KeysFor returns the key names used for collection.
func KeysFor(collection string) Keys {
	return Keys{
		Snapshot: collection + "/snapshot",
		Version:  collection + "/version",
		Pending:  collection + "/pending",
	}
}

// Snapshots reads and writes one collection's snapshot, version marker and
// pending queue on top of a Store.
type Snapshots struct {
	store Store
	keys  Keys
}

// NewSnapshots binds a collection to a store.
func NewSnapshots(s Store, collection string) *Snapshots {
	return &Snapshots{store: s, keys: KeysFor(collection)}
}

// Keys returns the key names in use.
func (sn *Snapshots) Keys() Keys {
	return sn.keys
}

// Load returns the stored snapshot. ok is false when nothing was stored yet.
func (sn *Snapshots) Load(ctx context.Context) (snap schema.Snapshot, ok bool, err error) {
	data, err := sn.store.Get(ctx, sn.keys.Snapshot)
	if errors.Is(err, schema.ErrNotFound) {
		return schema.Snapshot{}, false, nil
	}
	if err != nil {
		return schema.Snapshot{}, false, err
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return schema.Snapshot{}, false, fmt.Errorf("%w: failed to parse stored snapshot: %v", schema.ErrStorageUnavailable, err)
	}

	// The embedded version was written with the content. The version key is
	// read separately and may already belong to a later save.
	return snap, true, nil
}

// Save writes the snapshot and its version marker together, version last.
// Callers must have decided acceptance before calling Save.
func (sn *Snapshots) Save(ctx context.Context, snap schema.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return sn.store.Put(ctx,
		Entry{Key: sn.keys.Snapshot, Value: data},
		Entry{Key: sn.keys.Version, Value: []byte(snap.Version.String())},
	)
}

// Version reads only the version key. An absent key is the zero marker.
func (sn *Snapshots) Version(ctx context.Context) (schema.Marker, error) {
	data, err := sn.store.Get(ctx, sn.keys.Version)
	if errors.Is(err, schema.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	m, err := schema.ParseMarker(string(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", schema.ErrStorageUnavailable, err)
	}
	return m, nil
}

// WatchVersion streams version markers written under the version key.
// Unparseable values and deletions are skipped.
func (sn *Snapshots) WatchVersion(ctx context.Context) (<-chan schema.Marker, error) {
	changes, err := sn.store.Watch(ctx, sn.keys.Version)
	if err != nil {
		return nil, err
	}

	out := make(chan schema.Marker, 1)
	go func() {
		defer close(out)
		for c := range changes {
			if c.Value == nil {
				continue
			}
			m, err := schema.ParseMarker(string(c.Value))
			if err != nil {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LoadQueue returns the persisted pending operations in queue order.
func (sn *Snapshots) LoadQueue(ctx context.Context) ([]schema.Operation, error) {
	data, err := sn.store.Get(ctx, sn.keys.Pending)
	if errors.Is(err, schema.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ops []schema.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: failed to parse pending queue: %v", schema.ErrStorageUnavailable, err)
	}
	return ops, nil
}

// SaveQueue persists the pending operations in queue order.
func (sn *Snapshots) SaveQueue(ctx context.Context, ops []schema.Operation) error {
	if ops == nil {
		ops = []schema.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal pending queue: %w", err)
	}
	return sn.store.Put(ctx, Entry{Key: sn.keys.Pending, Value: data})
}
