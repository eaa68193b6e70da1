// Package service 组织邮件扫描的完整业务流程。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailscan/backend/internal/archive"
	"mailscan/backend/internal/attachment"
	"mailscan/backend/internal/config"
	"mailscan/backend/internal/domain"
	"mailscan/backend/internal/fingerprint"
	"mailscan/backend/internal/mailparse"
	"mailscan/backend/internal/monitoring"
	"mailscan/backend/internal/phishing"
	"mailscan/backend/internal/processor"
	"mailscan/backend/internal/storage"
	"mailscan/backend/internal/urlextract"
)

// ScanService 邮件扫描服务
//
// 流程：解析邮件 -> 附件流水线（元数据、过滤、富化）->
// URL 提取 -> 钓鱼评分 -> 持久化。
type ScanService struct {
	cfg      *config.Config
	store    storage.Store
	registry *processor.Registry
	scorer   *phishing.Scorer
	fp       *fingerprint.Engine
	ext      *archive.Extractor
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewScanService 创建扫描服务
func NewScanService(
	cfg *config.Config,
	store storage.Store,
	registry *processor.Registry,
	scorer *phishing.Scorer,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *ScanService {
	return &ScanService{
		cfg:      cfg,
		store:    store,
		registry: registry,
		scorer:   scorer,
		fp:       fingerprint.New(),
		ext:      archive.New(log),
		metrics:  metrics,
		log:      log,
	}
}

// Scan 扫描一封原始邮件并持久化结果
//
// source 标识入口（"smtp" 或 "http"），只用于指标维度。
func (s *ScanService) Scan(ctx context.Context, raw []byte, source string) (*domain.ScanResult, error) {
	start := time.Now()

	parsed, err := mailparse.ParseMail(raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordMailRejected()
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	coll := attachment.NewCollection(parsed.Attachments, attachment.Config{
		ContentTypeBlacklist: s.cfg.Scanner.ContentTypeBlacklist,
		MaxAttachmentSize:    s.cfg.Scanner.MaxAttachmentSize,
		MetadataConcurrency:  s.cfg.Scanner.MetadataConcurrency,
	}, s.fp, s.ext, s.log)
	if s.metrics != nil {
		coll.SetMetrics(s.metrics)
	}

	if err := coll.Run(ctx, s.registry); err != nil {
		return nil, fmt.Errorf("scan attachments: %w", err)
	}

	body := parsed.Text
	if parsed.HTML != "" {
		body = body + "\n" + parsed.HTML
	}

	attachmentText := s.composeAttachmentText(coll)
	bodyURLs := urlextract.Extract(body)
	attachmentURLs := urlextract.Extract(attachmentText)

	verdict, err := s.scorer.Score(phishing.Input{
		Body:                body,
		Subject:             parsed.Subject,
		From:                parsed.From,
		AttachmentText:      attachmentText,
		AttachmentFilenames: coll.FilenamesText(),
		BodyURLs:            bodyURLs,
		AttachmentURLs:      attachmentURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("score mail: %w", err)
	}

	result := &domain.ScanResult{
		ID:              uuid.NewString(),
		From:            parsed.From,
		To:              parsed.To,
		Subject:         parsed.Subject,
		ReceivedAt:      start.UTC(),
		CompletedAt:     time.Now().UTC(),
		AttachmentCount: coll.Len(),
		FilteredCount:   countFiltered(coll),
		WithURLs:        len(bodyURLs) > 0 || len(attachmentURLs) > 0,
		Score:           verdict.Score,
		WithPhishing:    verdict.WithPhishing,
		Attachments:     coll.Records(),
		Verdict:         verdict,
	}

	if err := s.store.SaveScan(result); err != nil {
		return nil, fmt.Errorf("save scan: %w", err)
	}

	s.recordMetrics(source, time.Since(start), result)

	s.log.Info("mail scanned",
		zap.String("id", result.ID),
		zap.String("from", result.From),
		zap.Int("attachments", result.AttachmentCount),
		zap.Int("score", result.Score),
		zap.Bool("phishing", result.WithPhishing),
	)

	return result, nil
}

// Get 按 ID 查询扫描结果
func (s *ScanService) Get(id string) (*domain.ScanResult, error) {
	return s.store.GetScan(id)
}

// List 分页列出扫描结果
func (s *ScanService) List(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.store.ListScans(limit, offset)
}

// ListPhishing 分页列出钓鱼判定结果
func (s *ScanService) ListPhishing(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.store.ListPhishing(limit, offset)
}

// composeAttachmentText 组装附件正文文本：原始文本载荷加上抽取报告
func (s *ScanService) composeAttachmentText(coll *attachment.Collection) string {
	var sb strings.Builder
	sb.WriteString(coll.PayloadText())

	for _, rec := range coll.Records() {
		for _, target := range append([]*domain.Attachment{rec}, rec.Files...) {
			report, ok := target.Enrichment["textextract"]
			if !ok {
				continue
			}
			if tr, ok := report.(processor.TextExtractReport); ok && tr.Text != "" {
				sb.WriteString("\n")
				sb.WriteString(tr.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func (s *ScanService) recordMetrics(source string, duration time.Duration, result *domain.ScanResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordScan(source, duration, result.Score, result.WithPhishing)
	for _, rec := range result.Attachments {
		if rec.IsFiltered {
			s.metrics.RecordAttachmentFiltered(filterReasonLabel(rec.FilterReason))
			continue
		}
		s.metrics.RecordAttachment(rec.ContentType, rec.Size)
		if rec.IsArchive {
			s.metrics.RecordArchiveExtracted()
		}
	}
}

// filterReasonLabel 把过滤原因收敛为低基数指标标签
//
// 内容类型命中不在此列：命中的记录被整体移出集合，不产生过滤原因。
func filterReasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "size"):
		return "size"
	case strings.HasPrefix(reason, "duplicate"):
		return "duplicate"
	default:
		return "other"
	}
}

func countFiltered(coll *attachment.Collection) int {
	n := 0
	for _, rec := range coll.Records() {
		if rec.IsFiltered {
			n++
		}
		for _, member := range rec.Files {
			if member.IsFiltered {
				n++
			}
		}
	}
	return n
}
