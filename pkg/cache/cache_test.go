package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMiss(t *testing.T) {
	c, err := New[string, string](4, time.Minute)
	require.NoError(t, err)

	_, _, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	c, err := New[string, int](4, time.Minute)
	require.NoError(t, err)

	c.Put("a", 42)
	v, age, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.GreaterOrEqual(t, age, time.Duration(0))
}

func TestExpiry(t *testing.T) {
	c, err := New[string, int](4, 10*time.Millisecond)
	require.NoError(t, err)

	c.Put("a", 1)
	time.Sleep(20 * time.Millisecond)

	_, _, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c, err := New[string, int](2, time.Minute)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"

	_, _, ok := c.Get("a")
	assert.False(t, ok)

	_, _, ok = c.Get("b")
	assert.True(t, ok)
	_, _, ok = c.Get("c")
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	c, err := New[string, int](4, time.Minute)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
