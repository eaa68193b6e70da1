// Package attachment 实现附件集合及其处理管线。
package attachment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailscan/backend/internal/archive"
	"mailscan/backend/internal/domain"
	"mailscan/backend/internal/fingerprint"
)

// RawPart 上游 MIME 解析器提供的单个邮件部分。
//
// Payload 可能是原始字节，也可能是 base64 文本，
// 由 ContentTransferEncoding 声明决定。
type RawPart struct {
	Filename                string
	Payload                 []byte
	MailContentType         string
	ContentTransferEncoding string
}

// Config 附件管线配置。
type Config struct {
	// ContentTypeBlacklist 需要整体剔除的检测内容类型（不区分大小写）
	ContentTypeBlacklist []string
	// MaxAttachmentSize 附件（及归档成员）允许的最大字节数
	MaxAttachmentSize int64
	// MetadataConcurrency 元数据阶段单集合内的并发度，0 表示串行
	MetadataConcurrency int
}

// Enricher 对整个集合执行增强处理。由处理器注册表实现。
type Enricher interface {
	Run(ctx context.Context, c *Collection) error
}

// PipelineMetrics 管线内部事件的指标记录。由 monitoring.Metrics 实现。
type PipelineMetrics interface {
	RecordArchiveFailure()
}

// Collection 一封邮件的附件有序集合。
//
// 插入顺序即邮件中的发现顺序。集合独占持有记录及其内容字节；
// 处理器阶段只在单次调用内借用可变访问。
type Collection struct {
	mu      sync.Mutex
	records []*domain.Attachment

	cfg     Config
	fp      *fingerprint.Engine
	ext     *archive.Extractor
	log     *zap.Logger
	metrics PipelineMetrics // 可为 nil
}

// SetMetrics 设置管线指标记录器。
func (c *Collection) SetMetrics(m PipelineMetrics) {
	c.metrics = m
}

// NewCollection 从原始邮件部分构建附件集合。
//
// 此时不做任何解码或指纹计算，记录按原样进入集合，
// 由 Run 的元数据阶段统一处理。
func NewCollection(parts []RawPart, cfg Config, fp *fingerprint.Engine, ext *archive.Extractor, log *zap.Logger) *Collection {
	c := &Collection{cfg: cfg, fp: fp, ext: ext, log: log}
	for _, p := range parts {
		c.records = append(c.records, &domain.Attachment{
			ID:                      uuid.NewString(),
			Filename:                p.Filename,
			Payload:                 p.Payload,
			MailContentType:         p.MailContentType,
			ContentTransferEncoding: p.ContentTransferEncoding,
		})
	}
	return c
}

// NewWithFingerprints 轻量构建：只解码并计算指纹，不跑完整管线。
//
// 适用于"只需内容身份、不需增强"的场景。归档成员同样计算指纹。
func NewWithFingerprints(ctx context.Context, parts []RawPart, cfg Config, fp *fingerprint.Engine, ext *archive.Extractor, log *zap.Logger) (*Collection, error) {
	c := NewCollection(parts, cfg, fp, ext, log)
	for _, rec := range c.records {
		c.decodePayload(rec)
		if len(rec.Payload) == 0 {
			continue
		}
		fps, err := fp.Hash(rec.Payload)
		if err != nil {
			rec.Error = fmt.Sprintf("fingerprint: %v", err)
			continue
		}
		rec.Fingerprints = fps
		if c.ext.IsArchive(ctx, rec.Payload) {
			rec.IsArchive = true
			members, err := c.ext.Extract(ctx, rec.Payload)
			if err != nil {
				log.Warn("archive extraction failed",
					zap.String("attachment", rec.Filename),
					zap.String("sha256", rec.Fingerprints.SHA256),
					zap.Error(err))
				continue
			}
			for _, m := range members {
				member := &domain.Attachment{
					ID:       uuid.NewString(),
					Filename: m.Filename,
					Payload:  m.Data,
				}
				if mfps, err := fp.Hash(m.Data); err == nil {
					member.Fingerprints = mfps
				} else {
					member.Error = fmt.Sprintf("fingerprint: %v", err)
				}
				rec.Files = append(rec.Files, member)
			}
		}
	}
	return c, nil
}

// Records 返回全部记录（借用，调用方不得长期持有）。
func (c *Collection) Records() []*domain.Attachment {
	return c.records
}

// Len 记录条数。
func (c *Collection) Len() int { return len(c.records) }

// PopByHash 按哈希值移除并返回所有匹配记录。
//
// 哈希类型由长度推断：32→md5，40→sha1，64→sha256，128→sha512，
// 其余长度返回无效哈希错误。
func (c *Collection) PopByHash(hash string) ([]*domain.Attachment, error) {
	kind, err := fingerprint.HashKindByLength(hash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash = strings.ToLower(hash)
	var popped []*domain.Attachment
	kept := c.records[:0]
	for _, rec := range c.records {
		if rec.HashByKind(kind) == hash {
			popped = append(popped, rec)
			continue
		}
		kept = append(kept, rec)
	}
	c.records = kept
	return popped, nil
}

// FilterByHashSet 把指定类型哈希命中 hashes 的记录标记为已过滤，
// 并返回集合内出现过的全部哈希值。
//
// 调用方可用返回值在一轮遍历里完成跨集合去重。
func (c *Collection) FilterByHashSet(hashes map[string]struct{}, kind string) (map[string]struct{}, error) {
	switch kind {
	case "md5", "sha1", "sha256", "sha512":
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", fingerprint.ErrInvalidHash, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	for _, rec := range c.records {
		h := rec.HashByKind(kind)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		if _, dup := hashes[h]; dup && !rec.IsFiltered {
			rec.MarkFiltered(fmt.Sprintf("duplicate %s %s", kind, h))
		}
	}
	return seen, nil
}

// RemoveContentType 移除检测类型等于 ct 的记录（不区分大小写），
// 归档记录只剔除匹配的成员，保留父记录。
func (c *Collection) RemoveContentType(ct string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeContentTypeLocked(ct)
}

func (c *Collection) removeContentTypeLocked(ct string) {
	ct = strings.ToLower(ct)
	kept := c.records[:0]
	for _, rec := range c.records {
		if strings.ToLower(rec.ContentType) == ct {
			continue
		}
		if len(rec.Files) > 0 {
			files := rec.Files[:0]
			for _, m := range rec.Files {
				if strings.ToLower(m.ContentType) == ct {
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

// FilenamesText 所有记录（含归档成员）的文件名，换行连接并去除首尾空白。
func (c *Collection) FilenamesText() string {
	var names []string
	for _, rec := range c.records {
		if rec.Filename != "" {
			names = append(names, rec.Filename)
		}
		for _, m := range rec.Files {
			if m.Filename != "" {
				names = append(names, m.Filename)
			}
		}
	}
	return strings.TrimSpace(strings.Join(names, "\n"))
}

// PayloadText 所有未过滤文本附件内容的拼接，换行连接并去除首尾空白。
//
// 归档成员一律按二进制对待，不参与拼接。
func (c *Collection) PayloadText() string {
	var chunks []string
	for _, rec := range c.records {
		if rec.IsFiltered || len(rec.Payload) == 0 {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(rec.ContentType), "text/") {
			continue
		}
		chunks = append(chunks, string(rec.Payload))
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}
