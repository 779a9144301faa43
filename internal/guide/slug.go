package guide

import (
	"strings"
)

const (
	maxSlugLength = 200
	fallbackSlug  = "guide"
)

// Slugify はタイトルからURL用のslugを生成する。
// 英小文字・数字・ハイフンのみを残し、空白はハイフンに、連続するハイフンは1つにまとめる。
// 使える文字が残らない場合は "guide" を返す。
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true // 先頭のハイフンを出さない

	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '\t' || r == '\n' || r == '_':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}
