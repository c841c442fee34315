package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadThroughCache_Get_CachesLoaderResult(t *testing.T) {
	cache := NewInMemoryCacheManager[string, stepMeta]("step-cache", DefaultExpiration, DefaultCleanupInterval)

	calls := 0
	readThrough := NewReadThroughCache[string, stepMeta, string](
		cache,
		func(ctx context.Context, stepID string) (stepMeta, error) {
			calls++
			return stepMeta{ID: stepID, Position: 1}, nil
		},
		false,
	)

	got, err := readThrough.Get(context.Background(), "step:s1", "s1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
	require.Equal(t, 1, calls)

	// Second read is served from the cache.
	_, err = readThrough.Get(context.Background(), "step:s1", "s1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestReadThroughCache_Get_SkipCache(t *testing.T) {
	cache := NewInMemoryCacheManager[string, stepMeta]("step-cache", DefaultExpiration, DefaultCleanupInterval)

	calls := 0
	readThrough := NewReadThroughCache[string, stepMeta, string](
		cache,
		func(ctx context.Context, stepID string) (stepMeta, error) {
			calls++
			return stepMeta{ID: stepID}, nil
		},
		true,
	)

	for range 3 {
		_, err := readThrough.Get(context.Background(), "step:s1", "s1", time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestReadThroughCache_Get_LoaderError(t *testing.T) {
	cache := NewInMemoryCacheManager[string, stepMeta]("step-cache", DefaultExpiration, DefaultCleanupInterval)
	boom := errors.New("db closed")

	readThrough := NewReadThroughCache[string, stepMeta, string](
		cache,
		func(ctx context.Context, stepID string) (stepMeta, error) {
			return stepMeta{}, boom
		},
		false,
	)

	_, err := readThrough.Get(context.Background(), "step:s1", "s1", time.Minute)
	require.ErrorIs(t, err, boom)

	// Errors are not cached.
	_, ok := cache.Get(context.Background(), "step:s1")
	require.False(t, ok)
}
