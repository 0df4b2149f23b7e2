// Package schema defines the data shared by every replica component.
//
// A replica is one execution context's local copy of a synchronized
// collection. The types here describe that copy (Snapshot, Record), the
// ordering value used to decide which of two copies is newer (Marker), the
// best-effort notification passed between sibling contexts (ChangeEvent), and
// the remote-bound mutations waiting for confirmation (Operation).
//
// # Wire shapes
//
// ChangeEvent encodes exactly as
//
//	{"action": "update", "version": 1712345678901, "data": {...}, "timestamp": "2024-04-05T19:34:38.901Z"}
//
// A Marker is stored under the version key as a decimal string.
//
// # Errors
//
// Failures are classified with the sentinel errors in errors.go. Components
// wrap them with fmt.Errorf("...: %w", err), and only the classification is
// acted on:
//
//	if errors.Is(err, schema.ErrAuthExpired) {
//	    // stop syncing, ask for credentials
//	}
package schema
