package model

import "time"

// Comment はガイドに対するコメントを表す。
// ParentID が設定されているものは返信であり、階層は常にトップレベルと返信の2段。
type Comment struct {
	ID         string
	GuideID    string
	UserID     string
	Username   string // users テーブルとの結合結果
	ParentID   *string
	Content    string
	IsApproved bool
	IsDeleted  bool
	LikesCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsReply は返信コメントかどうかを返す。
func (c *Comment) IsReply() bool {
	return c.ParentID != nil
}

// CommentThread はトップレベルコメントとその返信列。
type CommentThread struct {
	Comment
	Replies []Comment
}

// BuildThreads はコメント列をトップレベルと返信の2段構造にまとめる。
// トップレベルの並びと各返信の並びは入力順を保つ。
// 親が入力に含まれない返信は捨てる。
func BuildThreads(comments []Comment) []CommentThread {
	threads := make([]CommentThread, 0, len(comments))
	index := make(map[string]int, len(comments))

	for _, c := range comments {
		if c.ParentID == nil {
			index[c.ID] = len(threads)
			threads = append(threads, CommentThread{Comment: c, Replies: []Comment{}})
		}
	}
	for _, c := range comments {
		if c.ParentID == nil {
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			threads[i].Replies = append(threads[i].Replies, c)
		}
	}
	return threads
}

// CommentUpdate は作成者が変更可能なコメント項目。
type CommentUpdate struct {
	Content *string
}

// CommentModeration は管理者によるコメント承認状態の変更。
type CommentModeration struct {
	IsApproved *bool
}

// CommentStats はコメント全体の集計。
type CommentStats struct {
	Total      int `json:"total"`
	TopLevel   int `json:"top_level"`
	Replies    int `json:"replies"`
	Pending    int `json:"pending"`
	Deleted    int `json:"deleted"`
	TotalLikes int `json:"total_likes"`
}
