package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	ft := newFakeTime(1000)
	c := NewClock(ft.now)

	assert.Equal(t, schema.Marker(1000), c.Next(0))
	// Same millisecond.
	assert.Equal(t, schema.Marker(1001), c.Next(0))

	// Clock regression.
	ft.set(500)
	assert.Equal(t, schema.Marker(1002), c.Next(0))

	ft.set(5000)
	assert.Equal(t, schema.Marker(5000), c.Next(0))
	assert.Equal(t, schema.Marker(5000), c.Last())
}

func TestClock_Floor(t *testing.T) {
	c := NewClock(newFakeTime(1000).now)
	assert.Equal(t, schema.Marker(9001), c.Next(9000))
	assert.Equal(t, schema.Marker(9002), c.Next(0))
}

func TestClock_Observe(t *testing.T) {
	c := NewClock(newFakeTime(1000).now)
	c.Observe(7000)
	c.Observe(10)
	assert.Equal(t, schema.Marker(7001), c.Next(0))
}

func TestClock_UnavailableTimeSource(t *testing.T) {
	c := NewClock(func() (time.Time, error) { return time.Time{}, errors.New("no clock") })
	c.Observe(41)
	assert.Equal(t, schema.Marker(42), c.Next(0))
	assert.Equal(t, schema.Marker(43), c.Next(0))
}

func TestClock_SystemTime(t *testing.T) {
	c := NewClock(nil)
	before := schema.Marker(time.Now().UnixMilli())
	m := c.Next(0)
	assert.GreaterOrEqual(t, int64(m), int64(before))
}
