// Package filesystem 提供按日期归档的样本落盘存储。
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store 文件系统样本存储实现
type Store struct {
	basePath string // 样本存储根目录
}

// NewStore 创建文件系统样本存储实例
func NewStore(basePath string) (*Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("sample base path is required")
	}

	normalizedPath := filepath.Clean(basePath)
	if err := os.MkdirAll(normalizedPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{basePath: normalizedPath}, nil
}

// SaveSample 保存样本内容，目录布局: {basePath}/{YYYY-MM-DD}/{sha256}_{filename}
// 同一哈希重复写入覆盖旧文件，天然去重。
func (s *Store) SaveSample(date, sha256, filename string, data []byte) (string, error) {
	if sha256 == "" {
		return "", fmt.Errorf("sample sha256 is required")
	}

	dayPath := filepath.Join(s.basePath, date)
	if err := os.MkdirAll(dayPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create sample directory: %w", err)
	}

	name := sha256
	if safe := sanitizeFilename(filename); safe != "" {
		name = sha256 + "_" + safe
	}

	samplePath := filepath.Join(dayPath, name)
	if err := os.WriteFile(samplePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	return samplePath, nil
}

// sanitizeFilename 只保留文件名基名并剔除路径分隔符，防止目录穿越
func sanitizeFilename(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '-'
		}
		return r
	}, base)
	return base
}
