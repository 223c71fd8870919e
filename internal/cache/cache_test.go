package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetSetExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New[string]().WithClock(func() time.Time { return now })

	c.Set("https://example.com", "rules", time.Hour)
	v, ok := c.Get("https://example.com")
	assert.True(t, ok)
	assert.Equal(t, "rules", v)

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("https://example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Cleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New[int]().WithClock(func() time.Time { return now })
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Hour)

	now = now.Add(10 * time.Minute)
	c.Cleanup()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}
