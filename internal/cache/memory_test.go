package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(1024)

	require.NoError(t, c.Put("p1/grace", []byte("audio")))
	got, ok := c.Get("p1/grace")
	require.True(t, ok)
	assert.Equal(t, "audio", string(got))
	assert.True(t, c.Contains("p1/grace"))
	assert.EqualValues(t, 5, c.Size())

	require.NoError(t, c.Put("p1/grace", []byte("longer audio")))
	assert.EqualValues(t, 12, c.Size(), "overwrite adjusts size")

	require.NoError(t, c.Delete("p1/grace"))
	assert.False(t, c.Contains("p1/grace"))
	assert.Zero(t, c.Size())
	assert.NoError(t, c.Delete("missing"))
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(100)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("key-%d", i), make([]byte, 20)))
	}

	c.Get("key-0")
	c.Get("key-1")

	require.NoError(t, c.Put("key-new", make([]byte, 30)))

	for _, k := range []string{"key-0", "key-1", "key-new", "key-4"} {
		assert.True(t, c.Contains(k), "%s should have survived eviction", k)
	}
	for _, k := range []string{"key-2", "key-3"} {
		assert.False(t, c.Contains(k), "%s should have been evicted", k)
	}
	assert.EqualValues(t, 2, c.Stats().Evictions)
}

func TestMemoryCache_TooLarge(t *testing.T) {
	c := NewMemoryCache(10)
	assert.ErrorIs(t, c.Put("big", make([]byte, 11)), ErrItemTooLarge)
}

func TestMemoryCache_StatsAndOldest(t *testing.T) {
	c := NewMemoryCache(1024)
	_ = c.Put("a", []byte("1"))
	_ = c.Put("b", []byte("22"))
	c.Get("a")
	c.Get("zzz")

	s := c.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.EqualValues(t, 2, s.ItemCount)
	assert.EqualValues(t, 3, s.Size)
	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)

	oldest := c.Oldest(1)
	require.Len(t, oldest, 1)
	assert.Equal(t, "b", oldest[0].Key)
}

func TestMemoryCache_Prune(t *testing.T) {
	c := NewMemoryCache(1024)
	_ = c.Put("old", []byte("x"))
	time.Sleep(20 * time.Millisecond)
	_ = c.Put("new", []byte("y"))

	assert.Equal(t, 1, c.Prune(10*time.Millisecond))
	assert.False(t, c.Contains("old"))
	assert.True(t, c.Contains("new"))
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(4096)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := fmt.Sprintf("k-%d-%d", i, j%10)
				_ = c.Put(k, make([]byte, 16))
				c.Get(k)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), int64(4096))
}
