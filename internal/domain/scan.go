package domain

import "time"

// URL 表示一条已分解的 URL 记录，由 URL 提取器产出。
type URL struct {
	Raw       string `json:"raw"`
	Scheme    string `json:"scheme"`
	Host      string `json:"host"`
	Subdomain string `json:"subdomain,omitempty"`
	Domain    string `json:"domain"`
	TLD       string `json:"tld,omitempty"`
	Path      string `json:"path,omitempty"`
	Query     string `json:"query,omitempty"`
	Fragment  string `json:"fragment,omitempty"`
}

// Fields 返回可供关键词匹配的全部文本字段。
func (u URL) Fields() []string {
	return []string{u.Raw, u.Scheme, u.Host, u.Subdomain, u.Domain, u.TLD, u.Path, u.Query, u.Fragment}
}

// URLSet 按二级域名聚合的 URL 记录集合。
type URLSet map[string][]URL

// PhishingVerdict 钓鱼评分结果。
type PhishingVerdict struct {
	Score int `json:"score"`
	// ScoreExpanded 已置位属性名，从高位到低位
	ScoreExpanded []string `json:"scoreExpanded"`
	// Targets 命中的目标标识（去重），仅来自自由文本匹配
	Targets      []string `json:"targets"`
	WithPhishing bool     `json:"withPhishing"`
}

// ScanResult 表示一封邮件的完整扫描结果。
type ScanResult struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	From        string    `json:"from" gorm:"column:mail_from;type:varchar(255)"`
	To          string    `json:"to" gorm:"column:mail_to;type:varchar(255)"`
	Subject     string    `json:"subject" gorm:"type:varchar(500)"`
	ReceivedAt  time.Time `json:"receivedAt"`
	CompletedAt time.Time `json:"completedAt"`

	AttachmentCount int  `json:"attachmentCount"`
	FilteredCount   int  `json:"filteredCount"`
	WithURLs        bool `json:"withUrls"`

	Score        int    `json:"score"`
	WithPhishing bool   `json:"withPhishing" gorm:"index"`
	ScoreDetail  string `json:"-" gorm:"column:score_detail;type:text"` // JSON 序列化的 PhishingVerdict

	// 内容字段不入库，按需从文件系统或内存加载
	Attachments []*Attachment   `json:"attachments,omitempty" gorm:"-"`
	Verdict     PhishingVerdict `json:"verdict" gorm:"-"`
}
