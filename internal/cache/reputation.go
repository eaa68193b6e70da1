package cache

import (
	"context"
	"time"

	"mailscan/backend/internal/processor"
)

// TieredReputationCache 两级信誉缓存：L1 本地内存，L2 可选（如 Redis）。
// L1 命中直接返回，L2 命中回填 L1。
type TieredReputationCache struct {
	local  *LocalCache
	remote processor.ReputationCache // 可为 nil
}

// NewTieredReputationCache 创建两级信誉缓存
func NewTieredReputationCache(ttl time.Duration, remote processor.ReputationCache) *TieredReputationCache {
	return &TieredReputationCache{
		local:  NewLocalCache(ttl),
		remote: remote,
	}
}

// Get 查询缓存的信誉报告
func (c *TieredReputationCache) Get(ctx context.Context, sha256 string) (*processor.ReputationReport, bool) {
	if val, ok := c.local.Get(sha256); ok {
		if report, ok := val.(*processor.ReputationReport); ok {
			return report, true
		}
	}

	if c.remote == nil {
		return nil, false
	}
	report, ok := c.remote.Get(ctx, sha256)
	if !ok {
		return nil, false
	}
	c.local.Set(sha256, report, 0)
	return report, true
}

// Set 写入两级缓存
func (c *TieredReputationCache) Set(ctx context.Context, sha256 string, report *processor.ReputationReport, ttl time.Duration) {
	c.local.Set(sha256, report, ttl)
	if c.remote != nil {
		c.remote.Set(ctx, sha256, report, ttl)
	}
}
