package sync

import (
	"time"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// State is the scheduler state of a SyncContext.
type State int

const (
	StateIdle State = iota
	StatePulling
	StatePushing
	StateAwaitingRetry
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StatePushing:
		return "pushing"
	case StateAwaitingRetry:
		return "awaiting-retry"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time report of a SyncContext.
type Status struct {
	ID         string        `json:"id" yaml:"id"`
	Collection string        `json:"collection" yaml:"collection"`
	State      State         `json:"state" yaml:"state"`
	Version    schema.Marker `json:"version" yaml:"version"`
	Records    int           `json:"records" yaml:"records"`
	Pending    int           `json:"pending" yaml:"pending"`
	LastPull   time.Time     `json:"last_pull,omitzero" yaml:"last_pull,omitempty"`
	LastError  string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Degraded   bool          `json:"degraded" yaml:"degraded"`
	Expired    bool          `json:"expired" yaml:"expired"`
	Stopped    bool          `json:"stopped" yaml:"stopped"`
}
