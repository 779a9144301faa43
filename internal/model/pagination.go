package model

// ページネーションの既定値
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// SortOrder は並び順を表す。
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions は一覧取得の共通オプション。
// SortBy が空の場合は created_at の降順（新しい順）になる。
type ListOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder SortOrder
}

// Normalize は範囲外の値を既定値に丸めたコピーを返す。
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.SortOrder != SortAsc {
		o.SortOrder = SortDesc
	}
	return o
}

// Pagination はレスポンスに含めるページ情報。
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}
