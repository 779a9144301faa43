package guide

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// defaultExcerptLength は抜粋を自動生成する際の最大文字数。
const defaultExcerptLength = 200

// GenerateExcerpt はHTMLからテキストだけを取り出し、先頭 max 文字の抜粋を返す。
// 連続する空白は1つにまとめる。切り詰めた場合は末尾に "..." を付ける。
func GenerateExcerpt(content string, max int) string {
	text := extractText(content)
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// blockTags はテキスト抽出時に前後を空白で区切る要素。
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true, "td": true, "th": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "figcaption": true, "hr": true,
}

// extractText はHTMLのテキストノードを連結する。script と style の中身は含めない。
func extractText(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF もしくは壊れた入力。ここまでのテキストを返す
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
