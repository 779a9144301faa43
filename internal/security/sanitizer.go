// Package security はユーザー投稿コンテンツのサニタイズと外部URLの安全性検証を提供する。
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	httpsOnly    = regexp.MustCompile(`^https://`)
	tooltipClass = regexp.MustCompile(`^(tooltip|spell|item|npc|quality-[a-z]+)( (tooltip|spell|item|npc|quality-[a-z]+))*$`)
)

// ContentSanitizer はユーザー投稿のHTMLとテキストを無害化する。
// ポリシーは生成時に1回だけ構築し、以後は並行に使用できる。
type ContentSanitizer struct {
	guide   *bluemonday.Policy
	comment *bluemonday.Policy
	strict  *bluemonday.Policy
}

// NewContentSanitizer はガイド本文用・コメント用・プレーンテキスト用のポリシーを構築する。
//
// ガイド本文の許可リスト:
//   - 見出し（h2〜h4）、段落、リスト、引用、コード、表、強調
//   - a の href（http, https, mailto と相対URL）。外部リンクには target="_blank" と rel="nofollow noopener" を付与
//   - img の src は https のみ、alt と title を許可
//   - span と a の class はツールチップ用の決まった値のみ
//
// コメントは段落・改行・強調・コード・リンクのみ許可する。
func NewContentSanitizer() *ContentSanitizer {
	guide := bluemonday.NewPolicy()
	guide.AllowStandardURLs()
	guide.AllowElements(
		"p", "br", "hr", "h2", "h3", "h4",
		"ul", "ol", "li", "blockquote", "pre", "code",
		"strong", "em", "b", "i", "u", "s", "span",
		"table", "thead", "tbody", "tr", "th", "td",
		"figure", "figcaption",
	)
	guide.AllowAttrs("href").OnElements("a")
	guide.AllowAttrs("src").Matching(httpsOnly).OnElements("img")
	guide.AllowAttrs("alt", "title").OnElements("img")
	guide.AllowAttrs("class").Matching(tooltipClass).OnElements("span", "a")
	guide.RequireNoFollowOnLinks(true)
	guide.AddTargetBlankToFullyQualifiedLinks(true)

	comment := bluemonday.NewPolicy()
	comment.AllowElements("p", "br", "strong", "em", "code")
	comment.AllowAttrs("href").OnElements("a")
	comment.AllowURLSchemes("https", "http")
	comment.RequireNoFollowOnLinks(true)
	comment.AddTargetBlankToFullyQualifiedLinks(true)

	return &ContentSanitizer{
		guide:   guide,
		comment: comment,
		strict:  bluemonday.StrictPolicy(),
	}
}

// SanitizeGuide はガイド本文のHTMLを無害化する。
func (s *ContentSanitizer) SanitizeGuide(raw string) string {
	return strings.TrimSpace(s.guide.Sanitize(raw))
}

// SanitizeComment はコメント本文のHTMLを無害化する。
func (s *ContentSanitizer) SanitizeComment(raw string) string {
	return strings.TrimSpace(s.comment.Sanitize(raw))
}

// SanitizePlain はタグを全て取り除いたプレーンテキストを返す。
// タイトル・表示名・カテゴリ・タグなどに使用する。
// 戻り値はHTMLとして扱えないため、表示側で必ずエスケープすること。
func (s *ContentSanitizer) SanitizePlain(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
