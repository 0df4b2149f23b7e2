package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_WithoutJitter(t *testing.T) {
	b := &Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, b.NextDelay(0))
	assert.Equal(t, 200*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 400*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, 800*time.Millisecond, b.NextDelay(3))
	assert.Equal(t, 1*time.Second, b.NextDelay(4))
	assert.Equal(t, 1*time.Second, b.NextDelay(20))
	assert.Equal(t, 100*time.Millisecond, b.NextDelay(-1))
}

func TestBackoff_DefaultJitterRange(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 50; i++ {
		d := b.NextDelay(0)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.NextDelay(10), 72*time.Second)
	}
}
