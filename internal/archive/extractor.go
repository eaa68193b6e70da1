// Package archive 提供归档探测与一层展开。
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
	"go.uber.org/zap"
)

// Member 归档内的一个成员文件。
type Member struct {
	Filename string
	Data     []byte
}

// Extractor 归档探测与解包器。
//
// 探测基于内容结构而不是文件名后缀：不带文件名提示直接嗅探字节流。
// 解包到临时目录后递归遍历，把嵌套目录结构打平成成员列表；
// 成员即使本身是归档也不再展开。任何退出路径都保证清理临时目录。
type Extractor struct {
	log *zap.Logger
}

// New 创建解包器。
func New(log *zap.Logger) *Extractor {
	return &Extractor{log: log}
}

// IsArchive 判断 data 是否为可解包的归档格式。
func (e *Extractor) IsArchive(ctx context.Context, data []byte) bool {
	format, _, err := archives.Identify(ctx, "", bytes.NewReader(data))
	if err != nil {
		if !errors.Is(err, archives.NoMatch) {
			e.log.Debug("archive probe failed", zap.Error(err))
		}
		return false
	}
	// 仅压缩格式（如单个 gzip 流）没有成员概念，不当作归档
	_, ok := format.(archives.Extractor)
	return ok
}

// Extract 把归档展开为成员列表。
//
// 成员按去掉目录结构后的基础文件名返回；重名成员追加序号避免覆盖。
// 损坏或带密码的归档返回错误，由调用方决定是否继续，
// 临时目录在返回前总会被删除。
func (e *Extractor) Extract(ctx context.Context, data []byte) ([]Member, error) {
	format, input, err := archives.Identify(ctx, "", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("identify archive: %w", err)
	}
	unpacker, ok := format.(archives.Extractor)
	if !ok {
		return nil, fmt.Errorf("format %s has no extractable members", format.Extension())
	}

	scratch, err := os.MkdirTemp("", "mailscan-extract-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			e.log.Warn("failed to clean scratch dir", zap.String("dir", scratch), zap.Error(rmErr))
		}
	}()

	seen := make(map[string]int)
	err = unpacker.Extract(ctx, input, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || !f.Mode().IsRegular() {
			return nil
		}
		name := filepath.Base(f.NameInArchive)
		if name == "." || name == "" {
			return nil
		}
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%d-%s", n, name)
		}
		seen[filepath.Base(f.NameInArchive)]++

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open member %s: %w", f.NameInArchive, err)
		}
		defer src.Close()

		dst, err := os.Create(filepath.Join(scratch, name))
		if err != nil {
			return fmt.Errorf("create scratch file: %w", err)
		}
		defer dst.Close()

		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("write member %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}

	// 重新遍历临时目录读回成员，保证返回内容与落盘内容一致
	var members []Member
	err = filepath.WalkDir(scratch, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read member %s: %w", d.Name(), err)
		}
		members = append(members, Member{Filename: d.Name(), Data: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect members: %w", err)
	}

	return members, nil
}
