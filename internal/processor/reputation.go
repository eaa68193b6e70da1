package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/attachment"
)

// ReputationConfig 哈希信誉查询阶段配置。
type ReputationConfig struct {
	Endpoint    string        // 信誉服务查询地址
	APIKey      string        // 服务 API 密钥
	Timeout     time.Duration // 单次查询超时
	Concurrency int           // 记录级并发上限
	CacheTTL    time.Duration // 查询结果缓存时长
}

// ReputationCache 查询结果缓存（L1 本地 + 可选 L2 Redis 由实现决定）。
type ReputationCache interface {
	Get(ctx context.Context, key string) (*ReputationReport, bool)
	Set(ctx context.Context, key string, report *ReputationReport, ttl time.Duration)
}

// Detection 单个引擎的非清白判定。
type Detection struct {
	Engine string `json:"engine"`
	Result string `json:"result"`
}

// ReputationReport 重排后的信誉报告。
//
// 只保留非清白的判定，且打平成列表而不是按引擎名索引的映射，
// 方便下游直接遍历。
type ReputationReport struct {
	SHA256     string      `json:"sha256"`
	Positives  int         `json:"positives"`
	Total      int         `json:"total"`
	Detections []Detection `json:"detections,omitempty"`
}

// lookupResponse 信誉服务的原始响应。
type lookupResponse struct {
	ResponseCode int `json:"response_code"`
	Positives    int `json:"positives"`
	Total        int `json:"total"`
	Scans        map[string]struct {
		Detected bool   `json:"detected"`
		Result   string `json:"result"`
	} `json:"scans"`
}

// Reputation 按 sha256 查询附件在信誉服务中的检出情况。
type Reputation struct {
	cfg    ReputationConfig
	cache  ReputationCache
	client *http.Client
	log    *zap.Logger
}

// NewReputation 创建信誉查询处理器。cache 可为 nil。
func NewReputation(cfg ReputationConfig, cache ReputationCache, log *zap.Logger) *Reputation {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Reputation{
		cfg:    cfg,
		cache:  cache,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Name 实现 Processor。
func (p *Reputation) Name() string { return "reputation" }

// Process 查询每条未过滤记录（含归档成员）的哈希信誉。
//
// 单条查询超时或出错不影响同批其余记录。
func (p *Reputation) Process(ctx context.Context, c *attachment.Collection) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("reputation: api key not configured")
	}
	if p.cfg.Endpoint == "" {
		return fmt.Errorf("reputation: endpoint not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, rec := range c.Records() {
		if rec.IsFiltered {
			continue
		}
		for _, target := range withMembers(rec) {
			target := target
			if target.Fingerprints.Empty() {
				continue
			}
			g.Go(func() error {
				report, err := p.lookup(ctx, target.Fingerprints.SHA256)
				if err != nil {
					p.log.Warn("reputation lookup failed",
						zap.String("sha256", target.Fingerprints.SHA256),
						zap.Error(err))
					return nil
				}
				if report != nil {
					target.SetEnrichment(p.Name(), report)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Reputation) lookup(ctx context.Context, sha256 string) (*ReputationReport, error) {
	if p.cache != nil {
		if report, ok := p.cache.Get(ctx, sha256); ok {
			return report, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("apikey", p.cfg.APIKey)
	q.Set("resource", sha256)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call reputation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// 无效凭据是配置错误，让整个阶段失败并带明确原因
		return nil, fmt.Errorf("reputation service rejected api key")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var raw lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode reputation response: %w", err)
	}
	if raw.ResponseCode != 1 {
		// 服务未收录该样本
		return nil, nil
	}

	report := &ReputationReport{
		SHA256:    sha256,
		Positives: raw.Positives,
		Total:     raw.Total,
	}
	for engine, scan := range raw.Scans {
		if !scan.Detected {
			continue
		}
		report.Detections = append(report.Detections, Detection{
			Engine: engine,
			Result: scan.Result,
		})
	}

	if p.cache != nil {
		p.cache.Set(ctx, sha256, report, p.cfg.CacheTTL)
	}
	return report, nil
}
