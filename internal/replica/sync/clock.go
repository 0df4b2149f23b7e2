package sync

import (
	"sync"
	"time"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

// TimeSource reports the current wall-clock time. An error means the time
// is unavailable and the clock falls back to counting.
type TimeSource func() (time.Time, error)

// SystemTime is the default TimeSource.
func SystemTime() (time.Time, error) {
	return time.Now(), nil
}

// Clock issues version markers in wall-clock milliseconds. Every marker
// is strictly greater than the previous one and than any floor passed in,
// even when the time source ties, regresses or fails.
type Clock struct {
	mu   sync.Mutex
	last schema.Marker
	now  TimeSource
}

// NewClock creates a clock reading now (default: SystemTime).
func NewClock(now TimeSource) *Clock {
	if now == nil {
		now = SystemTime
	}
	return &Clock{now: now}
}

// Next returns a marker greater than floor and than every marker issued or
// observed so far.
func (c *Clock) Next(floor schema.Marker) schema.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := schema.MaxMarker(c.last, floor) + 1
	if t, err := c.now(); err == nil {
		if ms := schema.Marker(t.UnixMilli()); ms > next {
			next = ms
		}
	}
	c.last = next
	return next
}

// Observe records a marker seen elsewhere so later markers exceed it.
func (c *Clock) Observe(m schema.Marker) {
	c.mu.Lock()
	if m > c.last {
		c.last = m
	}
	c.mu.Unlock()
}

// Last returns the highest marker issued or observed.
func (c *Clock) Last() schema.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
