package zseek

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFindMiss(t *testing.T) {
	t.Parallel()

	c, err := newFrameCache(4)
	require.NoError(t, err)

	data, ok := c.find(0)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Equal(t, 0, c.entries())
	assert.Equal(t, 0, c.memoryUsage())
}

func TestCacheInsertFind(t *testing.T) {
	t.Parallel()

	c, err := newFrameCache(4)
	require.NoError(t, err)

	assert.True(t, c.insert(3, []byte("hello")))
	assert.Equal(t, 1, c.entries())
	assert.Equal(t, 5, c.memoryUsage())

	data, ok := c.find(3)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	// Duplicate indices are rejected.
	assert.False(t, c.insert(3, []byte("other")))
	assert.Equal(t, 1, c.entries())
	assert.Equal(t, 5, c.memoryUsage())
}

func TestCacheEviction(t *testing.T) {
	t.Parallel()

	c, err := newFrameCache(3)
	require.NoError(t, err)

	assert.True(t, c.insert(0, []byte("aa")))
	assert.True(t, c.insert(1, []byte("bbb")))
	assert.True(t, c.insert(2, []byte("cccc")))
	assert.Equal(t, 3, c.entries())
	assert.Equal(t, 9, c.memoryUsage())

	// Promote 0: the LRU is now 1.
	_, ok := c.find(0)
	assert.True(t, ok)

	// A full cache evicts exactly one entry per insert.
	assert.True(t, c.insert(3, []byte("d")))
	assert.Equal(t, 3, c.entries())
	assert.Equal(t, 2+4+1, c.memoryUsage())

	_, ok = c.find(1)
	assert.False(t, ok, "least recently used entry should have been evicted")
	for _, idx := range []int64{0, 2, 3} {
		_, ok := c.find(idx)
		assert.True(t, ok, "entry %d should still be cached", idx)
	}
}

func TestCacheLRUOrder(t *testing.T) {
	t.Parallel()

	c, err := newFrameCache(2)
	require.NoError(t, err)

	assert.True(t, c.insert(0, []byte("a")))
	assert.True(t, c.insert(1, []byte("b")))

	// Only find promotes: re-promote 0, insert 2, expect 1 gone.
	_, ok := c.find(0)
	assert.True(t, ok)
	assert.True(t, c.insert(2, []byte("c")))

	_, ok = c.find(1)
	assert.False(t, ok)
	_, ok = c.find(0)
	assert.True(t, ok)
	_, ok = c.find(2)
	assert.True(t, ok)
}

func TestCacheNil(t *testing.T) {
	t.Parallel()

	var c *frameCache
	data, ok := c.find(0)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.False(t, c.insert(0, []byte("a")))
	assert.Equal(t, 0, c.entries())
	assert.Equal(t, 0, c.memoryUsage())
}

func TestCacheCapacityNeverExceeded(t *testing.T) {
	t.Parallel()

	const capacity = 5
	c, err := newFrameCache(capacity)
	require.NoError(t, err)

	for i := int64(0); i < 100; i++ {
		assert.True(t, c.insert(i, []byte{byte(i)}))
		assert.LessOrEqual(t, c.entries(), capacity)
	}
	assert.Equal(t, capacity, c.entries())
	assert.Equal(t, capacity, c.memoryUsage())
}
