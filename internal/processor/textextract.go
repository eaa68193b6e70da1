package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/attachment"
)

// TextExtractConfig 文档文本抽取阶段配置。
type TextExtractConfig struct {
	Endpoint         string        // 文档抽取服务地址（Tika 风格 PUT 接口）
	Timeout          time.Duration // 单次调用超时
	Concurrency      int           // 记录级并发上限
	ContentAllowList []string      // 只处理这些检测内容类型；空表示全部
}

// TextExtractReport 单条记录的抽取报告。
type TextExtractReport struct {
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
}

// TextExtract 调用文档抽取服务，把附件正文文本写进 Enrichment。
type TextExtract struct {
	cfg    TextExtractConfig
	client *http.Client
	log    *zap.Logger
}

// NewTextExtract 创建文本抽取处理器。
func NewTextExtract(cfg TextExtractConfig, log *zap.Logger) *TextExtract {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TextExtract{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Name 实现 Processor。
func (p *TextExtract) Name() string { return "textextract" }

// Process 为每条符合类型要求的记录（含归档成员）抽取文本。
//
// 单条记录抽取失败只记日志，不影响同批其余记录。
func (p *TextExtract) Process(ctx context.Context, c *attachment.Collection) error {
	if p.cfg.Endpoint == "" {
		return fmt.Errorf("textextract: endpoint not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, rec := range c.Records() {
		if rec.IsFiltered {
			continue
		}
		for _, target := range withMembers(rec) {
			target := target
			if len(target.Payload) == 0 || !p.allowed(target.ContentType) {
				continue
			}
			g.Go(func() error {
				text, err := p.extract(ctx, target.Payload)
				if err != nil {
					p.log.Warn("text extraction failed",
						zap.String("attachment", target.Filename),
						zap.String("sha256", target.Fingerprints.SHA256),
						zap.Error(err))
					return nil
				}
				target.SetEnrichment(p.Name(), TextExtractReport{
					ContentType: target.ContentType,
					Text:        text,
				})
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *TextExtract) allowed(contentType string) bool {
	if len(p.cfg.ContentAllowList) == 0 {
		return true
	}
	for _, ct := range p.cfg.ContentAllowList {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	return false
}

func (p *TextExtract) extract(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
