package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheSetGet(t *testing.T) {
	c := NewLocalCache(1024)
	c.Set("k1", []byte("hello"), time.Minute)

	data, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestLocalCacheExpiry(t *testing.T) {
	c := NewLocalCache(1024)
	c.Set("k1", []byte("hello"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestLocalCacheEvictsLRUWhenFull(t *testing.T) {
	c := NewLocalCache(10)
	c.Set("a", []byte("12345"), time.Minute)
	c.Set("b", []byte("12345"), time.Minute)

	// "a" was set first and hasn't been accessed since, so it should be
	// evicted to make room.
	c.Set("c", []byte("12345"), time.Minute)

	_, aOK := c.Get("a")
	_, cOK := c.Get("c")
	assert.False(t, aOK)
	assert.True(t, cOK)
}

func TestLocalCacheDeletePrefix(t *testing.T) {
	c := NewLocalCache(1024)
	c.Set("ns:a", []byte("1"), time.Minute)
	c.Set("ns:b", []byte("2"), time.Minute)
	c.Set("other:c", []byte("3"), time.Minute)

	c.DeletePrefix("ns:")

	_, aOK := c.Get("ns:a")
	_, cOK := c.Get("other:c")
	assert.False(t, aOK)
	assert.True(t, cOK)
}
