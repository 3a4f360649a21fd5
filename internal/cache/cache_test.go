package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := New(time.Minute, 10)
	key := Key("recall", map[string]interface{}{"query": "postgres", "limit": 10})
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, []string{"node-1", "node-2"})
	val, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"node-1", "node-2"}, val)
}

func TestKeyIsOrderIndependent(t *testing.T) {
	k1 := Key("recall", map[string]interface{}{"a": 1, "b": 2})
	k2 := Key("recall", map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	c.Put("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New(time.Minute, 2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // touch a, making b the LRU
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted as least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestInvalidateAll(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("a", 1)
	c.Put("b", 2)
	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}
