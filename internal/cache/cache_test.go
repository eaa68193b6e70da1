package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailscan/backend/internal/processor"
)

func TestLocalCache(t *testing.T) {
	t.Run("设置和获取", func(t *testing.T) {
		cache := NewLocalCache(time.Minute)

		cache.Set("key", "value", 0)

		val, ok := cache.Get("key")
		require.True(t, ok)
		assert.Equal(t, "value", val)
	})

	t.Run("过期条目不可见", func(t *testing.T) {
		cache := NewLocalCache(time.Minute)

		cache.Set("short", "value", 10*time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		_, ok := cache.Get("short")
		assert.False(t, ok)
	})

	t.Run("删除和清空", func(t *testing.T) {
		cache := NewLocalCache(time.Minute)

		cache.Set("a", 1, 0)
		cache.Set("b", 2, 0)

		cache.Delete("a")
		_, ok := cache.Get("a")
		assert.False(t, ok)

		cache.Clear()
		_, ok = cache.Get("b")
		assert.False(t, ok)
	})

	t.Run("不存在的键", func(t *testing.T) {
		cache := NewLocalCache(time.Minute)

		_, ok := cache.Get("missing")
		assert.False(t, ok)
	})
}

// fakeRemoteCache 记录调用的二级缓存桩
type fakeRemoteCache struct {
	mu   sync.Mutex
	data map[string]*processor.ReputationReport
	gets int
	sets int
}

func newFakeRemoteCache() *fakeRemoteCache {
	return &fakeRemoteCache{data: make(map[string]*processor.ReputationReport)}
}

func (f *fakeRemoteCache) Get(_ context.Context, sha256 string) (*processor.ReputationReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	report, ok := f.data[sha256]
	return report, ok
}

func (f *fakeRemoteCache) Set(_ context.Context, sha256 string, report *processor.ReputationReport, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[sha256] = report
}

func TestTieredReputationCache(t *testing.T) {
	ctx := context.Background()
	report := &processor.ReputationReport{SHA256: "abc", Positives: 3, Total: 60}

	t.Run("L1命中不访问L2", func(t *testing.T) {
		remote := newFakeRemoteCache()
		cache := NewTieredReputationCache(time.Minute, remote)

		cache.Set(ctx, "abc", report, 0)

		got, ok := cache.Get(ctx, "abc")
		require.True(t, ok)
		assert.Equal(t, report, got)
		assert.Equal(t, 0, remote.gets)
		// Set 同时写入两级
		assert.Equal(t, 1, remote.sets)
	})

	t.Run("L2命中回填L1", func(t *testing.T) {
		remote := newFakeRemoteCache()
		remote.data["abc"] = report
		cache := NewTieredReputationCache(time.Minute, remote)

		got, ok := cache.Get(ctx, "abc")
		require.True(t, ok)
		assert.Equal(t, report, got)
		assert.Equal(t, 1, remote.gets)

		// 回填后第二次读取命中 L1
		_, ok = cache.Get(ctx, "abc")
		require.True(t, ok)
		assert.Equal(t, 1, remote.gets)
	})

	t.Run("无L2时仅用本地缓存", func(t *testing.T) {
		cache := NewTieredReputationCache(time.Minute, nil)

		_, ok := cache.Get(ctx, "missing")
		assert.False(t, ok)

		cache.Set(ctx, "abc", report, 0)
		got, ok := cache.Get(ctx, "abc")
		require.True(t, ok)
		assert.Equal(t, report, got)
	})
}
