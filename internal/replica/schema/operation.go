package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Action is the kind of remote-bound mutation.
type Action string

const (
	// ActionCreate creates a new entity (POST to the collection resource).
	ActionCreate Action = "create"
	// ActionUpdate replaces an existing entity (PUT to the entity resource).
	ActionUpdate Action = "update"
	// ActionDomain invokes a business action such as resolving a ticket.
	ActionDomain Action = "domainAction"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDomain:
		return true
	default:
		return false
	}
}

// DefaultMethod returns the HTTP method used to submit a.
func (a Action) DefaultMethod() string {
	if a == ActionUpdate {
		return http.MethodPut
	}
	return http.MethodPost
}

// Operation is a mutation not yet confirmed by the remote store.
type Operation struct {
	// ID doubles as the idempotency key sent with every submission.
	ID       string `json:"id"`
	Action   Action `json:"action"`
	Resource string `json:"resource"`
	Method   string `json:"method"`
	// Key identifies the local entity the operation touches. Operations
	// sharing a key are never reordered relative to each other.
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// Validate checks that the operation can be submitted.
func (op Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if !op.Action.Valid() {
		return fmt.Errorf("operation %s: unknown action %q", op.ID, op.Action)
	}
	if !strings.HasPrefix(op.Resource, "/") {
		return fmt.Errorf("operation %s: resource must be an absolute path (got %q)", op.ID, op.Resource)
	}
	if op.Method != http.MethodPost && op.Method != http.MethodPut {
		return fmt.Errorf("operation %s: method must be POST or PUT (got %q)", op.ID, op.Method)
	}
	if len(op.Payload) > 0 && !json.Valid(op.Payload) {
		return fmt.Errorf("operation %s: payload is not valid JSON", op.ID)
	}
	if op.Attempts < 0 {
		return fmt.Errorf("operation %s: attempts must not be negative", op.ID)
	}
	return nil
}

// EntityKey returns the ordering key, or "" when the operation is unkeyed.
// A create posted to the collection and a later update of the same record
// share the key even though their resources differ.
func (op Operation) EntityKey() string {
	return op.Key
}

// Result is the remote store's answer to a confirmed submission.
type Result struct {
	// Record is the created or updated entity, if the server returned one.
	Record json.RawMessage `json:"record,omitempty"`
	Status int             `json:"status"`
}
