package domain

import "time"

// Fingerprints 附件内容指纹。
//
// 五个哈希值总是一起计算：四个精确哈希用于内容寻址与黑名单比对，
// 模糊哈希（ssdeep）用于近似相似度比对。
type Fingerprints struct {
	MD5    string `json:"md5"`
	SHA1   string `json:"sha1"`
	SHA256 string `json:"sha256"`
	SHA512 string `json:"sha512"`
	SSDeep string `json:"ssdeep"`
}

// Empty 判断指纹是否尚未计算。
func (f Fingerprints) Empty() bool {
	return f.SHA256 == ""
}

// Attachment 表示一个待分析的邮件附件，或归档内的成员文件。
//
// 归档成员复用同一结构，但不携带 MailContentType 与
// ContentTransferEncoding（这两个字段来自邮件 MIME 部分，成员没有）。
// 归档只展开一层：成员即使本身是归档也不会再次展开。
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"` // 小写，含前导点，可能为空

	// Payload 原始内容，由所属集合独占持有；被过滤后立即释放
	Payload []byte `json:"-"`

	MailContentType         string `json:"mailContentType,omitempty"`
	ContentTransferEncoding string `json:"contentTransferEncoding,omitempty"`

	Size        int64  `json:"size"`
	ContentType string `json:"contentType"` // 内容嗅探结果，与声明的 MIME 类型无关

	IsArchive bool          `json:"isArchive"`
	Files     []*Attachment `json:"files,omitempty"` // 归档成员，仅当 IsArchive 且解包成功时非空

	Fingerprints Fingerprints `json:"fingerprints"`

	IsFiltered   bool   `json:"isFiltered"`
	FilterReason string `json:"filterReason,omitempty"`
	FilterFiles  bool   `json:"filterFiles,omitempty"` // 有成员因超限被剔除

	AnalysisDate time.Time `json:"analysisDate,omitempty"`

	// Enrichment 处理器名 → 不透明报告
	Enrichment map[string]interface{} `json:"enrichment,omitempty"`

	// Error 非致命错误注记（如 base64 解码失败），记录后继续处理
	Error string `json:"error,omitempty"`
}

// MarkFiltered 标记附件已被过滤并释放其内容。
//
// 过滤后仅保留元数据、指纹与过滤原因；Payload 与归档成员必须释放。
func (a *Attachment) MarkFiltered(reason string) {
	a.IsFiltered = true
	a.FilterReason = reason
	a.Payload = nil
	a.Files = nil
}

// SetEnrichment 写入指定处理器的报告。
func (a *Attachment) SetEnrichment(name string, report interface{}) {
	if a.Enrichment == nil {
		a.Enrichment = make(map[string]interface{})
	}
	a.Enrichment[name] = report
}

// HashByKind 按哈希类型取值。类型名无法识别时返回空串。
func (a *Attachment) HashByKind(kind string) string {
	switch kind {
	case "md5":
		return a.Fingerprints.MD5
	case "sha1":
		return a.Fingerprints.SHA1
	case "sha256":
		return a.Fingerprints.SHA256
	case "sha512":
		return a.Fingerprints.SHA512
	}
	return ""
}
