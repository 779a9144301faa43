package model

import "time"

// Rating はユーザーがガイドに付けた評価（1〜5）を表す。
// ユーザーとガイドの組につき1件。
type Rating struct {
	ID        string
	GuideID   string
	UserID    string
	Score     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// 評価値の範囲
const (
	MinRatingScore = 1
	MaxRatingScore = 5
)
