package sync

import (
	"bytes"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// Reason explains a reconciliation decision.
type Reason string

const (
	ReasonNewer     Reason = "newer"
	ReasonIdentical Reason = "identical"
	ReasonStale     Reason = "stale"
)

// Decision is the outcome of reconciling a candidate snapshot.
type Decision struct {
	Accept bool
	Reason Reason
}

// Policy decides whether candidate replaces local.
type Policy func(local, candidate schema.Snapshot) Decision

// LastWriterWins is the whole-collection policy: identical content is
// rejected as a no-op, content at a version not after local's is rejected
// as stale, anything else replaces local.
func LastWriterWins(local, candidate schema.Snapshot) Decision {
	if bytes.Equal(local.Canonical(), candidate.Canonical()) {
		return Decision{Reason: ReasonIdentical}
	}
	if !candidate.Version.After(local.Version) {
		return Decision{Reason: ReasonStale}
	}
	return Decision{Accept: true, Reason: ReasonNewer}
}
