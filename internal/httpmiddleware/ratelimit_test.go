package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewRateLimiter(5)
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.True(t, l.allow("1.2.3.4", now), "request %d should pass", i)
	}
	assert.False(t, l.allow("1.2.3.4", now), "burst exhausted")
}

func TestRefillOverTime(t *testing.T) {
	l := NewRateLimiter(60)
	now := time.Now()

	for i := 0; i < 60; i++ {
		l.allow("1.2.3.4", now)
	}
	assert.False(t, l.allow("1.2.3.4", now))

	// A second later one token is back.
	assert.True(t, l.allow("1.2.3.4", now.Add(time.Second)))
	assert.False(t, l.allow("1.2.3.4", now.Add(time.Second)))
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, l.allow("1.1.1.1", now))
	assert.False(t, l.allow("1.1.1.1", now))
	assert.True(t, l.allow("2.2.2.2", now))
}

func TestIdleBucketsSwept(t *testing.T) {
	l := NewRateLimiter(10)
	now := time.Now()

	l.allow("1.1.1.1", now)
	l.allow("2.2.2.2", now)
	assert.Len(t, l.buckets, 2)

	// Past the sweep horizon both entries are stale and dropped; the
	// request that triggered the sweep re-adds its own bucket.
	l.allow("3.3.3.3", now.Add(11*time.Minute))
	assert.Len(t, l.buckets, 1)
}
