// Package store provides the PersistentStore used by replica contexts.
//
// A Store is durable key/value storage shared by every context on one
// device. Three backends are available:
//
//   - MemoryStore: shared by contexts inside one process (tests, embedding)
//   - FileStore: one file per key, fsnotify-driven Watch across processes
//   - SQLiteStore: a WAL-mode SQLite kv table with a polling Watch
//
// Snapshots layers the well-known keys of one collection on top of a Store:
//
//	<collection>/snapshot   serialized schema.Snapshot (JSON)
//	<collection>/version    schema.Marker as a decimal string
//	<collection>/pending    queued schema.Operation list (JSON)
//
// The snapshot and version keys are written together by Snapshots.Save, the
// version key last, so a watcher that observes a new version can read the
// matching snapshot.
//
// # Watch semantics
//
// Watch delivers a Change for every write of the watched key, including the
// watcher's own writes. A Change is a hint to re-check: consumers compare the
// version they read against the version they last applied. Notifications
// coalesce when the consumer falls behind; only the latest value is kept.
//
// # Errors
//
// Backend failures wrap schema.ErrStorageUnavailable. Absent keys return
// schema.ErrNotFound.
package store
