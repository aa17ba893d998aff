package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiter_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(3, 1, WithClock(clk.now))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "burst token %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "keys are independent")

	clk.advance(500 * time.Millisecond)
	assert.False(t, l.Allow("10.0.0.1"))
	clk.advance(500 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1"))

	clk.advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
	assert.False(t, l.Allow("10.0.0.1"), "refill is capped at capacity")
}

func TestLimiter_Sweep(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(1, 0.1, WithClock(clk.now))

	l.Allow("a")
	clk.advance(10 * time.Minute)
	l.Allow("b")

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.True(t, l.Allow("a"), "swept key starts full")
}
