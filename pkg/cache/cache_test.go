package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tree struct {
	Name     string  `json:"name"`
	Children []*tree `json:"children"`
}

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(NewRedisBackend(rdb)), mr
}

func newFileCache(t *testing.T) *Cache {
	t.Helper()
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return New(backend)
}

func eachBackend(t *testing.T, fn func(t *testing.T, c *Cache)) {
	t.Run("redis", func(t *testing.T) {
		c, _ := newRedisCache(t)
		fn(t, c)
	})
	t.Run("file", func(t *testing.T) {
		fn(t, newFileCache(t))
	})
}

func TestSetGetDelete(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		assert.Nil(t, c.Get(ctx, "missing"))

		value := tree{Name: "/", Children: []*tree{{Name: "/about", Children: []*tree{}}}}
		require.True(t, c.Set(ctx, "site", value))

		var got tree
		require.True(t, c.GetInto(ctx, "site", &got))
		assert.Equal(t, value, got)

		decoded, ok := c.Get(ctx, "site").(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "/", decoded["name"])

		c.Delete(ctx, "site")
		assert.Nil(t, c.Get(ctx, "site"))
		assert.False(t, c.GetInto(ctx, "site", &got))
	})
}

func TestNullValueIsMiss(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		require.True(t, c.Set(ctx, "site", nil))
		assert.Nil(t, c.Get(ctx, "site"))
		var got tree
		assert.False(t, c.GetInto(ctx, "site", &got))
	})
}

func TestKeysArePrefixed(t *testing.T) {
	c, mr := newRedisCache(t)
	require.True(t, c.Set(context.Background(), "SITE_REPOSITORY_ubuntu.com_main", "x"))
	assert.True(t, mr.Exists(KeyPrefix+"SITE_REPOSITORY_ubuntu.com_main"))
}

func TestRawStringFallback(t *testing.T) {
	c, mr := newRedisCache(t)
	require.NoError(t, mr.Set(KeyPrefix+"plain", "not json"))
	assert.Equal(t, "not json", c.Get(context.Background(), "plain"))
}

func TestFileBackendRawStringFallback(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree-cache", KeyPrefix+"plain"), []byte("{broken"), 0o644))

	c := New(backend)
	assert.Equal(t, "{broken", c.Get(context.Background(), "plain"))
}

func TestAcquireIsExclusive(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		flag := "BACKGROUND_TASK_RUNNING-ubuntu.com"

		assert.False(t, c.IsFlagSet(ctx, flag))
		require.True(t, c.Acquire(ctx, flag, time.Minute))
		assert.True(t, c.IsFlagSet(ctx, flag))
		assert.False(t, c.Acquire(ctx, flag, time.Minute))

		c.Release(ctx, flag)
		assert.False(t, c.IsFlagSet(ctx, flag))
		assert.True(t, c.Acquire(ctx, flag, time.Minute))
	})
}

func TestRedisAcquireExpires(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	require.True(t, c.Acquire(ctx, "lock", time.Second))
	mr.FastForward(2 * time.Second)
	assert.True(t, c.Acquire(ctx, "lock", time.Second))
}

func TestFileAcquireTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	c := New(backend)
	ctx := context.Background()

	require.True(t, c.Acquire(ctx, "lock", time.Minute))
	lockPath := filepath.Join(dir, "tree-cache", KeyPrefix+"lock.lock")
	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	assert.True(t, c.Acquire(ctx, "lock", time.Minute))
}

func TestDisabledCacheIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, c := range []*Cache{nil, New(nil)} {
		assert.Equal(t, "disabled", c.Kind())
		assert.False(t, c.IsAvailable(ctx))
		assert.False(t, c.Set(ctx, "k", 1))
		assert.Nil(t, c.Get(ctx, "k"))
		c.Delete(ctx, "k")
		assert.True(t, c.Acquire(ctx, "k", time.Second))
		c.Release(ctx, "k")
	}
}

func TestRedisUnavailableDegrades(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()
	ctx := context.Background()
	assert.False(t, c.IsAvailable(ctx))
	assert.False(t, c.Set(ctx, "k", 1))
	assert.Nil(t, c.Get(ctx, "k"))
}

func TestInitPrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c, err := Init(context.Background(), rdb, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Kind())
}

func TestInitFallsBackToFile(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	dir := t.TempDir()
	c, err := Init(context.Background(), rdb, dir)
	require.NoError(t, err)
	assert.Equal(t, "file", c.Kind())
	assert.DirExists(t, filepath.Join(dir, "tree-cache"))

	c, err = Init(context.Background(), nil, dir)
	require.NoError(t, err)
	assert.Equal(t, "file", c.Kind())
}
