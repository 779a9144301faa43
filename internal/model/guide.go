package model

import "time"

// GuideStatus はガイドの公開状態を表す。
type GuideStatus string

const (
	// GuideStatusDraft は下書き状態。作成者と管理者のみ閲覧可能。
	GuideStatusDraft GuideStatus = "draft"
	// GuideStatusPublished は公開状態。
	GuideStatusPublished GuideStatus = "published"
	// GuideStatusDeleted は論理削除状態。終端状態でありここから遷移しない。
	GuideStatusDeleted GuideStatus = "deleted"
)

// ParseGuideStatus は文字列をGuideStatusに変換する。
func ParseGuideStatus(s string) (GuideStatus, bool) {
	switch GuideStatus(s) {
	case GuideStatusDraft, GuideStatusPublished, GuideStatusDeleted:
		return GuideStatus(s), true
	}
	return "", false
}

// CanTransitionTo は現在の状態から next への遷移が許可されるかを返す。
// 同一状態への遷移は deleted を除き何もしない遷移として許可する。
func (s GuideStatus) CanTransitionTo(next GuideStatus) bool {
	switch s {
	case GuideStatusDraft:
		return next == GuideStatusDraft || next == GuideStatusPublished || next == GuideStatusDeleted
	case GuideStatusPublished:
		return next == GuideStatusPublished || next == GuideStatusDeleted
	}
	return false
}

// Guide はユーザーが投稿する攻略ガイドを表す。
type Guide struct {
	ID              string
	AuthorID        string
	AuthorUsername  string // users テーブルとの結合結果
	Title           string
	Slug            string
	Content         string // サニタイズ済みHTML
	Excerpt         string
	Category        string
	Tags            []string
	Status          GuideStatus
	FeaturedImage   string
	MetaDescription string
	IsFeatured      bool
	Views           int64
	RatingAverage   float64
	RatingCount     int
	CommentsCount   int
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionTo はガイドの状態を next に遷移させる。
// 初めて公開状態になったときのみ PublishedAt を設定し、以後は上書きしない。
func (g *Guide) TransitionTo(next GuideStatus, now time.Time) error {
	if !g.Status.CanTransitionTo(next) {
		return NewInvalidStatusTransitionError(g.Status, next)
	}
	g.Status = next
	if next == GuideStatusPublished && g.PublishedAt == nil {
		t := now
		g.PublishedAt = &t
	}
	return nil
}

// GuideUpdate はガイドの変更可能項目。nil の項目は変更しない。
type GuideUpdate struct {
	Title           *string
	Content         *string
	Excerpt         *string
	Category        *string
	Tags            *[]string
	Status          *GuideStatus
	FeaturedImage   *string
	MetaDescription *string
	IsFeatured      *bool
}

// GuideFilter はガイド一覧の絞り込み条件。
// Status が nil の場合は公開済みのみを対象とする。
type GuideFilter struct {
	Status   *GuideStatus
	Category string
	AuthorID string
	Featured *bool
	Tags     []string
	Search   string
}

// GuideStats はガイド全体の集計。
type GuideStats struct {
	Total         int     `json:"total"`
	Published     int     `json:"published"`
	Drafts        int     `json:"drafts"`
	Deleted       int     `json:"deleted"`
	Featured      int     `json:"featured"`
	TotalViews    int64   `json:"total_views"`
	AverageRating float64 `json:"average_rating"`
}
