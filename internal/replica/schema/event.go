package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Event actions carried by ChangeEvent.Action besides the mutation actions.
const (
	// EventSync is broadcast after a remote pull was accepted.
	EventSync = "sync"
)

// ChangeEvent tells sibling contexts that shared state moved to Version.
// It is a hint only: receivers re-read the PersistentStore before acting.
type ChangeEvent struct {
	Action    string          `json:"action"`
	Version   Marker          `json:"version"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewChangeEvent builds an event stamped with the current time.
func NewChangeEvent(action string, version Marker, data json.RawMessage) ChangeEvent {
	return ChangeEvent{
		Action:    action,
		Version:   version,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// MarshalJSON always emits an object for data.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Action    string          `json:"action"`
		Version   Marker          `json:"version"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	data := e.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = json.RawMessage("{}")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wire{
		Action:    e.Action,
		Version:   e.Version,
		Data:      data,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	})
}

// DecodeChangeEvent parses a broadcast frame and checks its shape.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to parse change event: %w", err)
	}
	if e.Action == "" {
		return ChangeEvent{}, fmt.Errorf("change event: action is required")
	}
	if e.Version <= 0 {
		return ChangeEvent{}, fmt.Errorf("change event: version must be positive")
	}
	return e, nil
}
