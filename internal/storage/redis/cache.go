package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailscan/backend/internal/processor"
)

// ReputationCache 信誉查询结果的 Redis 缓存。
// 同一哈希在 TTL 内复用上次查询结果，避免重复请求上游服务。
type ReputationCache struct {
	client *Client
	log    *zap.Logger
}

// NewReputationCache 创建信誉缓存实例
func NewReputationCache(client *Client, log *zap.Logger) *ReputationCache {
	return &ReputationCache{
		client: client,
		log:    log,
	}
}

func reputationKey(sha256 string) string {
	return fmt.Sprintf("reputation:%s", sha256)
}

// Get 获取缓存的信誉报告，未命中返回 false
func (c *ReputationCache) Get(ctx context.Context, sha256 string) (*processor.ReputationReport, bool) {
	data, err := c.client.Client().Get(ctx, reputationKey(sha256)).Result()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("reputation cache read failed",
				zap.String("sha256", sha256),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var report processor.ReputationReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		c.log.Warn("reputation cache entry corrupted",
			zap.String("sha256", sha256),
			zap.Error(err),
		)
		return nil, false
	}
	return &report, true
}

// Set 写入信誉报告缓存
func (c *ReputationCache) Set(ctx context.Context, sha256 string, report *processor.ReputationReport, ttl time.Duration) {
	data, err := json.Marshal(report)
	if err != nil {
		c.log.Warn("reputation cache encode failed",
			zap.String("sha256", sha256),
			zap.Error(err),
		)
		return
	}
	if err := c.client.Client().Set(ctx, reputationKey(sha256), data, ttl).Err(); err != nil {
		c.log.Warn("reputation cache write failed",
			zap.String("sha256", sha256),
			zap.Error(err),
		)
	}
}
