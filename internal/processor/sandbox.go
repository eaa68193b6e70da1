package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/attachment"
)

// SandboxConfig 动态行为分析阶段配置。
type SandboxConfig struct {
	Endpoint           string        // 沙箱提交地址
	APIKey             string        // 沙箱 API 密钥
	Timeout            time.Duration // 单次提交超时
	Concurrency        int           // 记录级并发上限
	ExtensionAllowList []string      // 只分析这些扩展名（小写，含点）
	UserAgent          string        // 沙箱内模拟访问使用的 User-Agent
	Referer            string        // 沙箱内模拟访问使用的 Referer
}

// SandboxReport 沙箱分析报告。
type SandboxReport struct {
	TaskID     string   `json:"taskId"`
	Score      float64  `json:"score"`
	Signatures []string `json:"signatures,omitempty"`
}

// Sandbox 把允许扩展名的附件提交给动态分析沙箱。
type Sandbox struct {
	cfg    SandboxConfig
	client *http.Client
	log    *zap.Logger
}

// NewSandbox 创建沙箱处理器。
func NewSandbox(cfg SandboxConfig, log *zap.Logger) *Sandbox {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Sandbox{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Name 实现 Processor。
func (p *Sandbox) Name() string { return "sandbox" }

// Process 提交扩展名在允许列表内的未过滤记录（含归档成员）。
func (p *Sandbox) Process(ctx context.Context, c *attachment.Collection) error {
	if p.cfg.Endpoint == "" {
		return fmt.Errorf("sandbox: endpoint not configured")
	}
	if len(p.cfg.ExtensionAllowList) == 0 {
		return fmt.Errorf("sandbox: extension allow list not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, rec := range c.Records() {
		if rec.IsFiltered {
			continue
		}
		for _, target := range withMembers(rec) {
			target := target
			if len(target.Payload) == 0 || !p.allowedExt(target.Extension) {
				continue
			}
			g.Go(func() error {
				report, err := p.submit(ctx, target.Filename, target.Payload)
				if err != nil {
					p.log.Warn("sandbox submission failed",
						zap.String("attachment", target.Filename),
						zap.String("sha256", target.Fingerprints.SHA256),
						zap.Error(err))
					return nil
				}
				target.SetEnrichment(p.Name(), report)
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Sandbox) allowedExt(ext string) bool {
	for _, allowed := range p.cfg.ExtensionAllowList {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func (p *Sandbox) submit(ctx context.Context, filename string, payload []byte) (*SandboxReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write form payload: %w", err)
	}
	if p.cfg.UserAgent != "" {
		_ = form.WriteField("useragent", p.cfg.UserAgent)
	}
	if p.cfg.Referer != "" {
		_ = form.WriteField("referer", p.cfg.Referer)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call sandbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned %d", resp.StatusCode)
	}

	var report SandboxReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return &report, nil
}
