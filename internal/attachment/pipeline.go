package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/domain"
)

// Run 执行完整附件管线：元数据 → 内容类型过滤 → 大小过滤 → 可选增强。
//
// enrich 为 nil 时跳过增强阶段。各阶段顺序固定，
// 但元数据阶段内不同记录之间相互独立，可并发处理。
func (c *Collection) Run(ctx context.Context, enrich Enricher) error {
	if err := c.runMetadata(ctx); err != nil {
		return fmt.Errorf("metadata stage: %w", err)
	}
	c.filterContentTypes()
	c.filterSizes()

	if enrich != nil {
		if err := enrich.Run(ctx, c); err != nil {
			return fmt.Errorf("enrichment stage: %w", err)
		}
	}
	return nil
}

// runMetadata 解码、测量、嗅探并展开每条记录。
//
// 单条记录的失败只落在该记录的 Error 注记上，不中断其余记录。
func (c *Collection) runMetadata(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.cfg.MetadataConcurrency > 1 {
		g.SetLimit(c.cfg.MetadataConcurrency)
	} else {
		g.SetLimit(1)
	}

	for _, rec := range c.records {
		if rec.IsFiltered {
			continue
		}
		rec := rec
		g.Go(func() error {
			c.enrichMetadata(ctx, rec)
			return nil
		})
	}
	return g.Wait()
}

func (c *Collection) enrichMetadata(ctx context.Context, rec *domain.Attachment) {
	c.decodePayload(rec)

	if rec.AnalysisDate.IsZero() {
		rec.AnalysisDate = time.Now().UTC()
	}
	rec.Size = int64(len(rec.Payload))
	rec.Extension = strings.ToLower(filepath.Ext(rec.Filename))

	if len(rec.Payload) == 0 {
		return
	}

	// 指纹必须先于任何依赖内容身份的过滤决策
	if rec.Fingerprints.Empty() {
		fps, err := c.fp.Hash(rec.Payload)
		if err != nil {
			rec.Error = fmt.Sprintf("fingerprint: %v", err)
			return
		}
		rec.Fingerprints = fps
	}

	rec.ContentType = sniffContentType(rec.Payload)

	if !c.ext.IsArchive(ctx, rec.Payload) {
		return
	}
	rec.IsArchive = true

	members, err := c.ext.Extract(ctx, rec.Payload)
	if err != nil {
		// 损坏或带密码的归档：保持 IsArchive，成员留空，记日志与指标
		c.log.Warn("archive extraction failed",
			zap.String("attachment", rec.Filename),
			zap.String("sha256", rec.Fingerprints.SHA256),
			zap.Error(err))
		if c.metrics != nil {
			c.metrics.RecordArchiveFailure()
		}
		return
	}

	for _, m := range members {
		member := &domain.Attachment{
			ID:           uuid.NewString(),
			Filename:     m.Filename,
			Extension:    strings.ToLower(filepath.Ext(m.Filename)),
			Payload:      m.Data,
			Size:         int64(len(m.Data)),
			ContentType:  sniffContentType(m.Data),
			AnalysisDate: rec.AnalysisDate,
		}
		if fps, err := c.fp.Hash(m.Data); err == nil {
			member.Fingerprints = fps
		} else {
			member.Error = fmt.Sprintf("fingerprint: %v", err)
		}
		rec.Files = append(rec.Files, member)
	}
}

// decodePayload 按声明的传输编码解码内容。
//
// base64 缺失补齐符时先补一轮 "=" 再放弃；彻底失败只做注记，
// 记录保留原始字节继续走管线。
func (c *Collection) decodePayload(rec *domain.Attachment) {
	enc := strings.ToLower(strings.TrimSpace(rec.ContentTransferEncoding))
	if enc != "base64" {
		return
	}

	raw := strings.Map(dropSpace, string(rec.Payload))
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err == nil {
		rec.Payload = decoded
		return
	}
	if m := len(raw) % 4; m != 0 {
		if padded, err2 := base64.StdEncoding.DecodeString(raw + strings.Repeat("=", 4-m)); err2 == nil {
			rec.Payload = padded
			return
		}
	}
	rec.Error = fmt.Sprintf("base64 decode: %v", err)
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n':
		return -1
	}
	return r
}

// filterContentTypes 应用内容类型黑名单。
//
// 命中的顶层记录整体移出集合；归档记录只剔除命中的成员。
// 已在先前轮次被过滤的记录没有检测类型可用，
// 改用邮件声明的 MIME 类型判断是否移除。
func (c *Collection) filterContentTypes() {
	if len(c.cfg.ContentTypeBlacklist) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blacklist := make(map[string]struct{}, len(c.cfg.ContentTypeBlacklist))
	for _, ct := range c.cfg.ContentTypeBlacklist {
		blacklist[strings.ToLower(ct)] = struct{}{}
	}

	kept := c.records[:0]
	for _, rec := range c.records {
		if rec.IsFiltered {
			if _, hit := blacklist[declaredMediaType(rec.MailContentType)]; hit {
				continue
			}
			kept = append(kept, rec)
			continue
		}
		if _, hit := blacklist[strings.ToLower(rec.ContentType)]; hit {
			continue
		}
		if len(rec.Files) > 0 {
			files := rec.Files[:0]
			for _, m := range rec.Files {
				if _, hit := blacklist[strings.ToLower(m.ContentType)]; hit {
					continue
				}
				files = append(files, m)
			}
			rec.Files = files
		}
		kept = append(kept, rec)
	}
	c.records = kept
}

// filterSizes 应用大小上限。
//
// 顶层记录只看自身大小：超限则整体过滤（释放内容与成员）。
// 幸存记录的成员逐个独立检查，超限成员被剔除但不连累父记录；
// 有成员被剔除时置 FilterFiles，全部剔除时成员列表清空。
func (c *Collection) filterSizes() {
	max := c.cfg.MaxAttachmentSize
	if max <= 0 {
		return
	}

	for _, rec := range c.records {
		if rec.IsFiltered {
			continue
		}
		if rec.Size > max {
			rec.MarkFiltered(fmt.Sprintf("size %d exceeds limit %d", rec.Size, max))
			continue
		}
		if len(rec.Files) == 0 {
			continue
		}
		files := rec.Files[:0]
		for _, m := range rec.Files {
			if m.Size > max {
				rec.FilterFiles = true
				continue
			}
			files = append(files, m)
		}
		rec.Files = files
	}
}

// sniffContentType 基于内容嗅探 MIME 类型，忽略参数部分，统一小写。
func sniffContentType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// declaredMediaType 解析邮件声明的 Content-Type，取媒体类型部分。
func declaredMediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return strings.ToLower(mt)
}
