package phishing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailscan/backend/internal/domain"
)

func testKeywords() Keywords {
	return Keywords{
		Targets: map[string][]string{
			"paypal": {"paypal"},
			"apple":  {"apple id", "icloud"},
		},
		Subjects: []string{"verify your account", "account suspended"},
	}
}

func urlSetFor(raw, domainName string) domain.URLSet {
	return domain.URLSet{
		domainName: {
			{Raw: raw, Scheme: "http", Host: domainName, Domain: domainName},
		},
	}
}

func TestScore(t *testing.T) {
	scorer := NewScorer(testKeywords(), zap.NewNop())

	t.Run("正文命中且有URL证据判为钓鱼", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Body:     "Your PayPal account needs attention",
			BodyURLs: urlSetFor("http://paypal-secure.evil.example/login", "evil.example"),
		})
		require.NoError(t, err)

		assert.NotZero(t, verdict.Score)
		assert.True(t, verdict.WithPhishing)
		assert.Contains(t, verdict.ScoreExpanded, PropMailBody)
		// URL 文本本身也命中目标短语
		assert.Contains(t, verdict.ScoreExpanded, PropURLsBody)
		// targets 只来自自由文本命中
		assert.Equal(t, []string{"paypal"}, verdict.Targets)
	})

	t.Run("非零分但无URL证据不判为钓鱼", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Body: "paypal password reset attached",
		})
		require.NoError(t, err)

		assert.NotZero(t, verdict.Score)
		assert.False(t, verdict.WithPhishing)
	})

	t.Run("有URL但零分不判为钓鱼", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Body:     "meeting notes as promised",
			BodyURLs: urlSetFor("http://intranet.example/notes", "intranet.example"),
		})
		require.NoError(t, err)

		assert.Zero(t, verdict.Score)
		assert.False(t, verdict.WithPhishing)
		assert.Empty(t, verdict.Targets)
	})

	t.Run("URL命中只置位不产生targets", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Body:     "see attachment",
			BodyURLs: urlSetFor("http://paypal.evil.example/", "evil.example"),
		})
		require.NoError(t, err)

		assert.Contains(t, verdict.ScoreExpanded, PropURLsBody)
		assert.Empty(t, verdict.Targets)
		assert.True(t, verdict.WithPhishing)
	})

	t.Run("多词短语要求全部词出现", func(t *testing.T) {
		hit, err := scorer.Score(Input{Body: "confirm your apple account id today"})
		require.NoError(t, err)
		assert.Contains(t, hit.ScoreExpanded, PropMailBody)

		miss, err := scorer.Score(Input{Body: "fresh apples for sale"})
		require.NoError(t, err)
		assert.NotContains(t, miss.ScoreExpanded, PropMailBody)
	})

	t.Run("主题关键词置位", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Subject: "Please verify your account now",
		})
		require.NoError(t, err)
		assert.Contains(t, verdict.ScoreExpanded, PropMailSubject)
	})

	t.Run("HTML表单置位", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			Body: `<html><body><form action="http://evil.example/steal"><input name="pw"></form></body></html>`,
		})
		require.NoError(t, err)
		assert.Contains(t, verdict.ScoreExpanded, PropMailForm)
	})

	t.Run("附件文本与文件名独立置位", func(t *testing.T) {
		verdict, err := scorer.Score(Input{
			AttachmentText:      "login to your icloud apple id",
			AttachmentFilenames: "paypal_invoice.pdf",
		})
		require.NoError(t, err)

		assert.Contains(t, verdict.ScoreExpanded, PropTextAttachments)
		assert.Contains(t, verdict.ScoreExpanded, PropFilenameAttachments)
		assert.Equal(t, []string{"apple", "paypal"}, verdict.Targets)
	})

	t.Run("空输入零分", func(t *testing.T) {
		verdict, err := scorer.Score(Input{})
		require.NoError(t, err)
		assert.Zero(t, verdict.Score)
		assert.False(t, verdict.WithPhishing)
		assert.Empty(t, verdict.ScoreExpanded)
	})
}

func TestMaxScore(t *testing.T) {
	scorer := NewScorer(testKeywords(), zap.NewNop())

	max, err := scorer.MaxScore()
	require.NoError(t, err)
	// 表单位不计入正向证据上限
	assert.Equal(t, 127, max)
}

func TestMatchAnyPhrase(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		phrases []string
		want    bool
	}{
		{"单词命中", "PayPal alert", []string{"paypal"}, true},
		{"大小写无关", "PAYPAL", []string{"PayPal"}, true},
		{"多词全部出现", "your apple account id", []string{"apple id"}, true},
		{"多词缺一不中", "apple pie", []string{"apple id"}, false},
		{"空短语列表", "anything", nil, false},
		{"空白短语不匹配一切", "anything", []string{"   "}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchAnyPhrase(tt.text, tt.phrases))
		})
	}
}

func TestHasHTMLForm(t *testing.T) {
	assert.True(t, hasHTMLForm(`<form method="post"></form>`))
	assert.True(t, hasHTMLForm(`<div><FORM action="/x"></FORM></div>`))
	assert.False(t, hasHTMLForm("plain text about forms"))
	assert.False(t, hasHTMLForm(""))
}
