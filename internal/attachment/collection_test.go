package attachment

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailscan/backend/internal/archive"
	"mailscan/backend/internal/fingerprint"
)

func newTestCollection(t *testing.T, parts []RawPart, cfg Config) *Collection {
	t.Helper()
	return NewCollection(parts, cfg, fingerprint.New(), archive.New(zap.NewNop()), zap.NewNop())
}

func b64(data string) []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(data)))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNewCollection(t *testing.T) {
	parts := []RawPart{
		{Filename: "a.txt", Payload: []byte("one")},
		{Filename: "b.txt", Payload: []byte("two")},
	}
	c := newTestCollection(t, parts, Config{})

	require.Equal(t, 2, c.Len())
	// 保持发现顺序，构建期不做任何解码
	assert.Equal(t, "a.txt", c.Records()[0].Filename)
	assert.Equal(t, []byte("one"), c.Records()[0].Payload)
	assert.NotEmpty(t, c.Records()[0].ID)
	assert.True(t, c.Records()[0].Fingerprints.Empty())
}

func TestRunMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("解码测量并计算指纹", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{{
			Filename:                "Report.TXT",
			Payload:                 b64("quarterly numbers inside"),
			MailContentType:         "text/plain",
			ContentTransferEncoding: "base64",
		}}, Config{MetadataConcurrency: 2})

		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.Equal(t, []byte("quarterly numbers inside"), rec.Payload)
		assert.Equal(t, int64(24), rec.Size)
		assert.Equal(t, ".txt", rec.Extension)
		assert.Equal(t, "text/plain", rec.ContentType)
		assert.False(t, rec.Fingerprints.Empty())
		assert.False(t, rec.AnalysisDate.IsZero())
		assert.Empty(t, rec.Error)
	})

	t.Run("缺失补齐符的base64重试成功", func(t *testing.T) {
		encoded := strings.TrimRight(string(b64("padded content!")), "=")
		c := newTestCollection(t, []RawPart{{
			Filename:                "x.bin",
			Payload:                 []byte(encoded),
			ContentTransferEncoding: "base64",
		}}, Config{})

		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.Equal(t, []byte("padded content!"), rec.Payload)
		assert.Empty(t, rec.Error)
	})

	t.Run("彻底无法解码时保留原始字节并注记", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{{
			Filename:                "broken.bin",
			Payload:                 []byte("!!!! not base64 ****"),
			ContentTransferEncoding: "base64",
		}}, Config{})

		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.Contains(t, rec.Error, "base64 decode")
		assert.Equal(t, []byte("!!!! not base64 ****"), rec.Payload)
		// 原始字节照常计算指纹
		assert.False(t, rec.Fingerprints.Empty())
	})

	t.Run("归档附件展开成员", func(t *testing.T) {
		data := buildZip(t, map[string]string{
			"inner.txt": "member text",
			"tool.exe":  "MZ fake binary",
		})
		c := newTestCollection(t, []RawPart{{
			Filename: "bundle.zip",
			Payload:  data,
		}}, Config{})

		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.True(t, rec.IsArchive)
		require.Len(t, rec.Files, 2)
		for _, m := range rec.Files {
			assert.NotEmpty(t, m.Filename)
			assert.NotZero(t, m.Size)
			assert.False(t, m.Fingerprints.Empty())
			assert.Equal(t, rec.AnalysisDate, m.AnalysisDate)
		}
	})
}

func TestFilterSizes(t *testing.T) {
	ctx := context.Background()

	t.Run("超限顶层记录整体过滤", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{
			{Filename: "big.bin", Payload: bytes.Repeat([]byte("x"), 65)},
			{Filename: "ok.bin", Payload: []byte("small")},
		}, Config{MaxAttachmentSize: 64})

		require.NoError(t, c.Run(ctx, nil))

		big := c.Records()[0]
		assert.True(t, big.IsFiltered)
		assert.Contains(t, big.FilterReason, "size 65 exceeds limit 64")
		// 过滤释放内容
		assert.Nil(t, big.Payload)

		ok := c.Records()[1]
		assert.False(t, ok.IsFiltered)
		assert.NotEmpty(t, ok.Payload)
	})

	t.Run("恰好等于上限不过滤", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{
			{Filename: "edge.bin", Payload: bytes.Repeat([]byte("x"), 64)},
		}, Config{MaxAttachmentSize: 64})

		require.NoError(t, c.Run(ctx, nil))
		assert.False(t, c.Records()[0].IsFiltered)
	})

	t.Run("超限成员被剔除但父记录幸存", func(t *testing.T) {
		// 高度可压缩的成员：解包后远大于归档本身
		data := buildZip(t, map[string]string{
			"small.txt": "ok",
			"huge.txt":  strings.Repeat("y", 5000),
		})
		limit := int64(len(data) + 100)
		require.Less(t, limit, int64(5000))
		c := newTestCollection(t, []RawPart{
			{Filename: "mixed.zip", Payload: data},
		}, Config{MaxAttachmentSize: limit})

		// 上限高于归档本身，只有 huge.txt 成员超限
		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.False(t, rec.IsFiltered)
		assert.True(t, rec.FilterFiles)
		require.Len(t, rec.Files, 1)
		assert.Equal(t, "small.txt", rec.Files[0].Filename)
	})

	t.Run("成员全部超限时成员列表清空", func(t *testing.T) {
		data := buildZip(t, map[string]string{
			"big-a.txt": strings.Repeat("y", 5000),
			"big-b.txt": strings.Repeat("z", 6000),
		})
		limit := int64(len(data) + 100)
		require.Less(t, limit, int64(5000))
		c := newTestCollection(t, []RawPart{
			{Filename: "allbig.zip", Payload: data},
		}, Config{MaxAttachmentSize: limit})

		require.NoError(t, c.Run(ctx, nil))

		rec := c.Records()[0]
		assert.False(t, rec.IsFiltered)
		assert.True(t, rec.IsArchive)
		assert.True(t, rec.FilterFiles)
		assert.Empty(t, rec.Files)
	})
}

func TestFilterContentTypes(t *testing.T) {
	ctx := context.Background()

	t.Run("命中黑名单的顶层记录被移除", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{
			{Filename: "note.txt", Payload: []byte("plain text attachment")},
			{Filename: "logo.png", Payload: pngBytes()},
		}, Config{ContentTypeBlacklist: []string{"image/png"}})

		require.NoError(t, c.Run(ctx, nil))

		require.Equal(t, 1, c.Len())
		assert.Equal(t, "note.txt", c.Records()[0].Filename)
	})

	t.Run("归档记录只剔除命中的成员", func(t *testing.T) {
		data := buildZip(t, map[string]string{
			"keep.txt":  "text stays",
			"strip.png": string(pngBytes()),
		})
		c := newTestCollection(t, []RawPart{
			{Filename: "arc.zip", Payload: data},
		}, Config{ContentTypeBlacklist: []string{"image/png"}})

		require.NoError(t, c.Run(ctx, nil))

		require.Equal(t, 1, c.Len())
		rec := c.Records()[0]
		require.Len(t, rec.Files, 1)
		assert.Equal(t, "keep.txt", rec.Files[0].Filename)
	})

	t.Run("黑名单大小写无关", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{
			{Filename: "logo.png", Payload: pngBytes()},
		}, Config{ContentTypeBlacklist: []string{"IMAGE/PNG"}})

		require.NoError(t, c.Run(ctx, nil))
		assert.Zero(t, c.Len())
	})

	t.Run("已过滤记录按声明类型判断", func(t *testing.T) {
		c := newTestCollection(t, []RawPart{
			{Filename: "doc.doc", Payload: []byte("word bytes"), MailContentType: "application/msword; name=doc.doc"},
			{Filename: "note.txt", Payload: []byte("plain note"), MailContentType: "text/plain"},
		}, Config{ContentTypeBlacklist: []string{"application/msword"}})

		// 先前轮次已过滤的记录没有检测类型可用
		c.Records()[0].MarkFiltered("duplicate sha256 deadbeef")
		c.Records()[1].MarkFiltered("duplicate sha256 cafebabe")

		require.NoError(t, c.Run(ctx, nil))

		require.Equal(t, 1, c.Len())
		assert.Equal(t, "note.txt", c.Records()[0].Filename)
		assert.True(t, c.Records()[0].IsFiltered)
	})
}

// fakePipelineMetrics 记录管线事件次数的指标桩
type fakePipelineMetrics struct {
	archiveFailures int
}

func (f *fakePipelineMetrics) RecordArchiveFailure() {
	f.archiveFailures++
}

func TestRunCorruptArchive(t *testing.T) {
	ctx := context.Background()

	// 截断的 zip：头部魔数完整，中央目录缺失
	data := buildZip(t, map[string]string{"inner.txt": "member text"})
	truncated := data[:len(data)-10]

	c := newTestCollection(t, []RawPart{
		{Filename: "broken.zip", Payload: truncated},
	}, Config{})
	metrics := &fakePipelineMetrics{}
	c.SetMetrics(metrics)

	// 解包失败不是批级失败
	require.NoError(t, c.Run(ctx, nil))

	rec := c.Records()[0]
	assert.True(t, rec.IsArchive)
	assert.Empty(t, rec.Files)
	assert.False(t, rec.IsFiltered)
	assert.False(t, rec.Fingerprints.Empty())
	assert.Equal(t, 1, metrics.archiveFailures)
}

func TestPopByHash(t *testing.T) {
	ctx := context.Background()

	c := newTestCollection(t, []RawPart{
		{Filename: "a.txt", Payload: []byte("same content")},
		{Filename: "b.txt", Payload: []byte("same content")},
		{Filename: "c.txt", Payload: []byte("different")},
	}, Config{})
	require.NoError(t, c.Run(ctx, nil))

	t.Run("按sha1弹出全部匹配", func(t *testing.T) {
		sha1 := c.Records()[0].Fingerprints.SHA1
		require.Len(t, sha1, 40)

		popped, err := c.PopByHash(strings.ToUpper(sha1))
		require.NoError(t, err)
		assert.Len(t, popped, 2)
		assert.Equal(t, 1, c.Len())
		assert.Equal(t, "c.txt", c.Records()[0].Filename)
	})

	t.Run("非法长度报错", func(t *testing.T) {
		_, err := c.PopByHash("abc1234")
		assert.ErrorIs(t, err, fingerprint.ErrInvalidHash)
	})

	t.Run("无匹配返回空", func(t *testing.T) {
		popped, err := c.PopByHash(strings.Repeat("0", 64))
		require.NoError(t, err)
		assert.Empty(t, popped)
	})
}

func TestFilterByHashSet(t *testing.T) {
	ctx := context.Background()

	c := newTestCollection(t, []RawPart{
		{Filename: "dup.txt", Payload: []byte("seen before")},
		{Filename: "new.txt", Payload: []byte("brand new")},
	}, Config{})
	require.NoError(t, c.Run(ctx, nil))

	dupHash := c.Records()[0].Fingerprints.SHA256
	known := map[string]struct{}{dupHash: {}}

	seen, err := c.FilterByHashSet(known, "sha256")
	require.NoError(t, err)

	assert.Len(t, seen, 2)
	assert.True(t, c.Records()[0].IsFiltered)
	assert.Contains(t, c.Records()[0].FilterReason, "duplicate sha256")
	assert.False(t, c.Records()[1].IsFiltered)

	_, err = c.FilterByHashSet(known, "crc32")
	assert.ErrorIs(t, err, fingerprint.ErrInvalidHash)
}

func TestTextViews(t *testing.T) {
	ctx := context.Background()

	data := buildZip(t, map[string]string{"member.doc": "binary-ish"})
	c := newTestCollection(t, []RawPart{
		{Filename: "letter.txt", Payload: []byte("dear customer")},
		{Filename: "arc.zip", Payload: data},
	}, Config{})
	require.NoError(t, c.Run(ctx, nil))

	t.Run("文件名包含归档成员", func(t *testing.T) {
		names := c.FilenamesText()
		assert.Contains(t, names, "letter.txt")
		assert.Contains(t, names, "arc.zip")
		assert.Contains(t, names, "member.doc")
	})

	t.Run("正文只含未过滤的文本附件", func(t *testing.T) {
		text := c.PayloadText()
		assert.Contains(t, text, "dear customer")
		// 归档成员按二进制对待
		assert.NotContains(t, text, "binary-ish")
	})

	t.Run("过滤记录不参与正文拼接", func(t *testing.T) {
		c.Records()[0].MarkFiltered("manual")
		assert.NotContains(t, c.PayloadText(), "dear customer")
	})
}

func TestRemoveContentType(t *testing.T) {
	ctx := context.Background()

	c := newTestCollection(t, []RawPart{
		{Filename: "a.txt", Payload: []byte("text one")},
		{Filename: "logo.png", Payload: pngBytes()},
	}, Config{})
	require.NoError(t, c.Run(ctx, nil))

	c.RemoveContentType("IMAGE/PNG")

	require.Equal(t, 1, c.Len())
	assert.Equal(t, "a.txt", c.Records()[0].Filename)
}

// pngBytes 最小合法 PNG 文件头，足够类型嗅探
func pngBytes() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
		0, 0, 0, 0x0d, 'I', 'H', 'D', 'R',
		0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0,
		0x90, 0x77, 0x53, 0xde,
	}
}
