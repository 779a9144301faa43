package guide

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerateExcerpt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{"タグを除去する", "<p>Kill the <strong>boss</strong> first.</p>", 200, "Kill the boss first."},
		{"ブロック要素で区切る", "<h2>Phase 1</h2><p>Stack up</p><ul><li>Tank</li><li>Heal</li></ul>", 200, "Phase 1 Stack up Tank Heal"},
		{"scriptとstyleは含めない", "<p>Visible</p><script>alert(1)</script><style>p{}</style>", 200, "Visible"},
		{"空白をまとめる", "<p>a\n\n   b\t c</p>", 200, "a b c"},
		{"切り詰めて末尾に省略記号", "<p>abcdefghij</p>", 5, "abcde..."},
		{"空入力", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateExcerpt(tt.content, tt.max); got != tt.want {
				t.Errorf("GenerateExcerpt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateExcerpt_CountsRunes(t *testing.T) {
	got := GenerateExcerpt("<p>"+strings.Repeat("攻略", 150)+"</p>", defaultExcerptLength)
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != defaultExcerptLength {
		t.Errorf("rune count = %d, want %d", n, defaultExcerptLength)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated excerpt should end with ..., got %q", got)
	}
}
