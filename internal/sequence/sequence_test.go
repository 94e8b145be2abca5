package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisAllocator(t *testing.T) (*RedisAllocator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAllocator(client), mr
}

func TestRedisAllocator_StrictlyIncreasing(t *testing.T) {
	alloc, mr := newRedisAllocator(t)
	ctx := context.Background()

	var last int64
	for range 5 {
		v, err := alloc.Next(ctx, "change_request")
		require.NoError(t, err)
		assert.Greater(t, v, last)
		last = v
	}
	got, err := mr.Get(redisKeyPrefix + "change_request")
	require.NoError(t, err)
	assert.Equal(t, "5", got)
}

func TestRedisAllocator_IndependentNames(t *testing.T) {
	alloc, _ := newRedisAllocator(t)
	ctx := context.Background()

	a, err := alloc.Next(ctx, "a")
	require.NoError(t, err)
	b, err := alloc.Next(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(1), b)
}

func TestRedisAllocator_Unavailable(t *testing.T) {
	alloc, mr := newRedisAllocator(t)
	mr.Close()

	_, err := alloc.Next(context.Background(), "change_request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment sequence change_request")
}

func TestAllocators_ConcurrentCallersGetDistinctValues(t *testing.T) {
	redisAlloc, _ := newRedisAllocator(t)
	allocators := map[string]Allocator{
		"memory": NewMemoryAllocator(),
		"redis":  redisAlloc,
	}

	for name, alloc := range allocators {
		t.Run(name, func(t *testing.T) {
			const callers = 50
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[int64]bool, callers)
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := alloc.Next(context.Background(), "change_request")
					assert.NoError(t, err)
					mu.Lock()
					seen[v] = true
					mu.Unlock()
				}()
			}
			wg.Wait()
			assert.Len(t, seen, callers)
			for i := int64(1); i <= callers; i++ {
				assert.True(t, seen[i], "missing value %d", i)
			}
		})
	}
}
