// Package urlextract 从文本中提取并分解 URL，按二级域名聚合。
package urlextract

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"mailscan/backend/internal/domain"
)

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<>"'\)\]]+`)

// Extract 提取 text 中的全部 URL，返回二级域名 → 分解记录的映射。
//
// 无法解析的候选串直接丢弃；同一 URL 重复出现只保留一条。
func Extract(text string) domain.URLSet {
	if text == "" {
		return nil
	}

	set := make(domain.URLSet)
	seen := make(map[string]struct{})
	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:")
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		rec, key, ok := decompose(raw)
		if !ok {
			continue
		}
		set[key] = append(set[key], rec)
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// decompose 把一条 URL 拆成 scheme/host/subdomain/domain/tld/path/query/fragment。
func decompose(raw string) (domain.URL, string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return domain.URL{}, "", false
	}

	host := strings.ToLower(parsed.Hostname())
	rec := domain.URL{
		Raw:      raw,
		Scheme:   strings.ToLower(parsed.Scheme),
		Host:     host,
		Path:     parsed.Path,
		Query:    parsed.RawQuery,
		Fragment: parsed.Fragment,
	}

	// 裸 IP 没有可分解的域名结构，按整个 host 聚合
	if net.ParseIP(host) != nil {
		rec.Domain = host
		return rec, host, true
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// 无公共后缀的主机名：按整个 host 聚合
		rec.Domain = host
		return rec, host, true
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	rec.TLD = suffix
	rec.Domain = strings.TrimSuffix(etld1, "."+suffix)
	if host != etld1 {
		rec.Subdomain = strings.TrimSuffix(host, "."+etld1)
	}
	return rec, rec.Domain, true
}
