package phishing

import (
	"encoding/json"
	"fmt"
	"os"
)

// keywordsFile 关键词 JSON 文件的结构
type keywordsFile struct {
	Targets  map[string][]string `json:"targets"`
	Subjects []string            `json:"subjects"`
}

// LoadKeywords 从 JSON 文件加载关键词配置，路径为空时使用内置默认集
func LoadKeywords(path string) (Keywords, error) {
	if path == "" {
		return DefaultKeywords(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("read keywords file: %w", err)
	}

	var kf keywordsFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return Keywords{}, fmt.Errorf("parse keywords file: %w", err)
	}

	kw := Keywords{
		Targets:  kf.Targets,
		Subjects: kf.Subjects,
	}
	if kw.Targets == nil {
		kw.Targets = map[string][]string{}
	}
	return kw, nil
}

// DefaultKeywords 内置的最小关键词集，便于未配置时仍可运行
func DefaultKeywords() Keywords {
	return Keywords{
		Targets: map[string][]string{
			"paypal":    {"paypal"},
			"apple":     {"apple id", "icloud"},
			"microsoft": {"microsoft", "office 365"},
			"amazon":    {"amazon"},
			"google":    {"google account", "gmail"},
		},
		Subjects: []string{
			"verify your account",
			"account suspended",
			"password expired",
			"urgent action required",
			"confirm your identity",
		},
	}
}
