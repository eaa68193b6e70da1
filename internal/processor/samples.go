package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailscan/backend/internal/attachment"
)

// SamplesConfig 样本落盘阶段配置。
type SamplesConfig struct {
	// MinSize 小于该字节数的样本不保存，0 表示全部保存
	MinSize int64
}

// SampleStore 持久化样本存储，按内容日期与主哈希定位。
type SampleStore interface {
	SaveSample(date string, sha256 string, filename string, data []byte) (string, error)
}

// SamplesReport 样本保存回执。
type SamplesReport struct {
	Path string `json:"path"`
}

// Samples 把合格的附件内容写入持久化样本库。
//
// 存储键为内容日期（分析日）+ 主哈希（sha256），
// 同一样本重复入库是幂等的覆盖写。
type Samples struct {
	cfg   SamplesConfig
	store SampleStore
	log   *zap.Logger
}

// NewSamples 创建样本落盘处理器。
func NewSamples(cfg SamplesConfig, store SampleStore, log *zap.Logger) *Samples {
	return &Samples{cfg: cfg, store: store, log: log}
}

// Name 实现 Processor。
func (p *Samples) Name() string { return "samples" }

// Process 保存每条未过滤记录及其归档成员的内容。
func (p *Samples) Process(ctx context.Context, c *attachment.Collection) error {
	if p.store == nil {
		return fmt.Errorf("samples: store not configured")
	}

	for _, rec := range c.Records() {
		if rec.IsFiltered {
			continue
		}
		date := rec.AnalysisDate.Format("2006-01-02")
		for _, target := range withMembers(rec) {
			if int64(len(target.Payload)) < p.cfg.MinSize || len(target.Payload) == 0 {
				continue
			}
			if target.Fingerprints.Empty() {
				continue
			}
			path, err := p.store.SaveSample(date, target.Fingerprints.SHA256, target.Filename, target.Payload)
			if err != nil {
				p.log.Warn("sample persist failed",
					zap.String("sha256", target.Fingerprints.SHA256),
					zap.Error(err))
				continue
			}
			target.SetEnrichment(p.Name(), SamplesReport{Path: path})
		}
	}
	return nil
}
