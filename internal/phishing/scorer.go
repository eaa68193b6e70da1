// Package phishing 在通用位图引擎之上实现钓鱼可能性评分。
package phishing

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"mailscan/backend/internal/bitmap"
	"mailscan/backend/internal/domain"
)

// 位图属性名。位序号固定：0 到 7。
const (
	PropMailBody            = "mail_body"
	PropURLsBody            = "urls_body"
	PropTextAttachments     = "text_attachments"
	PropURLsAttachments     = "urls_attachments"
	PropFilenameAttachments = "filename_attachments"
	PropMailFrom            = "mail_from"
	PropMailSubject         = "mail_subject"
	PropMailForm            = "mail_form"
)

// properties 钓鱼位图的固定属性表。
func properties() map[string]uint {
	return map[string]uint{
		PropMailBody:            0,
		PropURLsBody:            1,
		PropTextAttachments:     2,
		PropURLsAttachments:     3,
		PropFilenameAttachments: 4,
		PropMailFrom:            5,
		PropMailSubject:         6,
		PropMailForm:            7,
	}
}

// Keywords 目标与主题关键词配置。
//
// Targets 把目标标识映射到多词短语列表；一条短语命中要求
// 其全部空格分隔的词都作为大小写无关子串独立出现在文本里
// （词间 AND，短语间 OR，目标间 OR）。
type Keywords struct {
	Targets  map[string][]string
	Subjects []string
}

// Input 一次评分调用的全部输入。评分器只借用，不持有。
type Input struct {
	Body     string
	Subject  string
	From     string
	// AttachmentText 附件正文文本（集合的 PayloadText 加上抽取报告文本）
	AttachmentText string
	// AttachmentFilenames 附件文件名文本（集合的 FilenamesText）
	AttachmentFilenames string
	BodyURLs            domain.URLSet
	AttachmentURLs      domain.URLSet
}

// Scorer 钓鱼评分器。无共享可变状态，可并发使用。
type Scorer struct {
	kw  Keywords
	log *zap.Logger
}

// NewScorer 创建评分器。
func NewScorer(kw Keywords, log *zap.Logger) *Scorer {
	return &Scorer{kw: kw, log: log}
}

// MaxScore 不把 mail_form 计入正向证据时的最大分值。
//
// 表单位只作为佐证出现，历史口径固定用 127 作为归一化基准。
func (s *Scorer) MaxScore() (int, error) {
	bm, err := bitmap.New(properties())
	if err != nil {
		return 0, err
	}
	return bm.ScoreOf(
		PropMailBody, PropURLsBody, PropTextAttachments,
		PropURLsAttachments, PropFilenameAttachments,
		PropMailFrom, PropMailSubject,
	)
}

// Score 计算一封邮件的钓鱼评分。
//
// URL 证据只置位、不计入 targets：URL 文本是预先分解的记录
// 而不是自由文本，目标归属以自由文本命中为准。
// 最终 WithPhishing 要求分值非零且存在 URL 证据，
// 没有任何 URL 佐证的非零分不判为钓鱼。
func (s *Scorer) Score(in Input) (domain.PhishingVerdict, error) {
	bm, err := bitmap.New(properties())
	if err != nil {
		return domain.PhishingVerdict{}, fmt.Errorf("build phishing bitmap: %w", err)
	}

	targets := make(map[string]struct{})

	textChecks := []struct {
		text string
		prop string
	}{
		{in.Body, PropMailBody},
		{in.From, PropMailFrom},
		{in.AttachmentText, PropTextAttachments},
		{in.AttachmentFilenames, PropFilenameAttachments},
	}
	for _, check := range textChecks {
		if check.text == "" {
			continue
		}
		matched := s.matchTargets(check.text)
		if len(matched) == 0 {
			continue
		}
		if err := bm.Set(check.prop); err != nil {
			return domain.PhishingVerdict{}, err
		}
		for _, id := range matched {
			targets[id] = struct{}{}
		}
	}

	withURLs := false
	urlChecks := []struct {
		urls domain.URLSet
		prop string
	}{
		{in.BodyURLs, PropURLsBody},
		{in.AttachmentURLs, PropURLsAttachments},
	}
	for _, check := range urlChecks {
		if len(check.urls) == 0 {
			continue
		}
		withURLs = true
		if s.matchURLSet(check.urls) {
			if err := bm.Set(check.prop); err != nil {
				return domain.PhishingVerdict{}, err
			}
		}
	}

	if in.Subject != "" && matchAnyPhrase(in.Subject, s.kw.Subjects) {
		if err := bm.Set(PropMailSubject); err != nil {
			return domain.PhishingVerdict{}, err
		}
	}

	if hasHTMLForm(in.Body) {
		if err := bm.Set(PropMailForm); err != nil {
			return domain.PhishingVerdict{}, err
		}
	}

	verdict := domain.PhishingVerdict{
		Score:         bm.Score(),
		ScoreExpanded: bm.ActiveProperties(),
		Targets:       sortedKeys(targets),
		WithPhishing:  bm.Score() != 0 && withURLs,
	}
	return verdict, nil
}

// matchTargets 返回短语命中 text 的全部目标标识。
func (s *Scorer) matchTargets(text string) []string {
	var matched []string
	for id, phrases := range s.kw.Targets {
		if matchAnyPhrase(text, phrases) {
			matched = append(matched, id)
		}
	}
	sort.Strings(matched)
	return matched
}

// matchURLSet 判断是否有任何目标短语命中 URL 集合里的任一文本字段。
func (s *Scorer) matchURLSet(urls domain.URLSet) bool {
	for _, records := range urls {
		for _, u := range records {
			for _, field := range u.Fields() {
				if field == "" {
					continue
				}
				for _, phrases := range s.kw.Targets {
					if matchAnyPhrase(field, phrases) {
						return true
					}
				}
			}
		}
	}
	return false
}

// matchAnyPhrase 短语间 OR；单条短语内全部词都须作为
// 大小写无关子串出现（词间 AND）。
func matchAnyPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		words := strings.Fields(strings.ToLower(phrase))
		if len(words) == 0 {
			continue
		}
		all := true
		for _, word := range words {
			if !strings.Contains(lower, word) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// hasHTMLForm 判断正文里是否存在 HTML 表单元素。
func hasHTMLForm(body string) bool {
	if body == "" || !strings.Contains(strings.ToLower(body), "<form") {
		return false
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return false
	}
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "form" {
			return true
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if walk(child) {
				return true
			}
		}
		return false
	}
	return walk(doc)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
