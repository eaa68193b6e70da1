package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/attachment"
)

// IntelConfig 恶意样本情报查询阶段配置。
type IntelConfig struct {
	Endpoint    string        // 情报服务地址
	APIKey      string        // 服务 API 密钥
	PartnerID   string        // 服务分配的合作方标识
	Timeout     time.Duration // 单次查询超时
	Concurrency int           // 记录级并发上限
}

// IntelReport 恶意情报报告。
type IntelReport struct {
	SHA256         string `json:"sha256"`
	Classification string `json:"classification"` // clean / suspicious / malicious / unknown
	Family         string `json:"family,omitempty"`
	FirstSeen      string `json:"firstSeen,omitempty"`
}

// Intel 按哈希查询恶意样本情报库。
type Intel struct {
	cfg    IntelConfig
	client *http.Client
	log    *zap.Logger
}

// NewIntel 创建情报查询处理器。
func NewIntel(cfg IntelConfig, log *zap.Logger) *Intel {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Intel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Name 实现 Processor。
func (p *Intel) Name() string { return "intel" }

// Process 查询每条未过滤记录（含归档成员）的情报分类。
func (p *Intel) Process(ctx context.Context, c *attachment.Collection) error {
	if p.cfg.Endpoint == "" {
		return fmt.Errorf("intel: endpoint not configured")
	}
	if p.cfg.APIKey == "" || p.cfg.PartnerID == "" {
		return fmt.Errorf("intel: credentials not configured")
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
					p.log.Warn("intel lookup failed",
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

func (p *Intel) lookup(ctx context.Context, sha256 string) (*IntelReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"partner_id": p.cfg.PartnerID,
		"hash":       sha256,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call intel service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("intel service rejected credentials")
	default:
		return nil, fmt.Errorf("intel service returned %d", resp.StatusCode)
	}

	var report IntelReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode intel response: %w", err)
	}
	report.SHA256 = sha256
	return &report, nil
}
