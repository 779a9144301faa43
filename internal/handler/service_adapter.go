package handler

import (
	"context"
	"time"

	"github.com/hitoshi/guidehub/internal/feed"
	"github.com/hitoshi/guidehub/internal/model"
)

// SiteStats は管理画面に表示するサイト全体の集計。
type SiteStats struct {
	Users    *model.UserCounts   `json:"users"`
	Guides   *model.GuideStats   `json:"guides"`
	Comments *model.CommentStats `json:"comments"`
}

// UserCounter はユーザー集計を返すインターフェース。user.Service が実装する。
type UserCounter interface {
	Counts(ctx context.Context) (*model.UserCounts, error)
}

// GuideStatsSource はガイド集計を返すインターフェース。guide.Service が実装する。
type GuideStatsSource interface {
	Stats(ctx context.Context) (*model.GuideStats, error)
}

// CommentStatsSource はコメント集計を返すインターフェース。comment.Service が実装する。
type CommentStatsSource interface {
	Stats(ctx context.Context) (*model.CommentStats, error)
}

// SiteStatsAdapter は各サービスの集計を SiteStatsProvider にまとめるアダプタ。
type SiteStatsAdapter struct {
	users    UserCounter
	guides   GuideStatsSource
	comments CommentStatsSource
}

// NewSiteStatsAdapter はSiteStatsAdapterを生成する。
func NewSiteStatsAdapter(users UserCounter, guides GuideStatsSource, comments CommentStatsSource) *SiteStatsAdapter {
	return &SiteStatsAdapter{users: users, guides: guides, comments: comments}
}

// SiteStats はユーザー・ガイド・コメントの集計を順に取得する。
func (a *SiteStatsAdapter) SiteStats(ctx context.Context) (*SiteStats, error) {
	users, err := a.users.Counts(ctx)
	if err != nil {
		return nil, err
	}
	guides, err := a.guides.Stats(ctx)
	if err != nil {
		return nil, err
	}
	comments, err := a.comments.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &SiteStats{Users: users, Guides: guides, Comments: comments}, nil
}

// GuideFeedSource はフィードに載せる新着ガイドを返すインターフェース。guide.Service が実装する。
type GuideFeedSource interface {
	Feed(ctx context.Context) ([]*model.Guide, error)
}

// FeedAdapter は新着ガイドをRSSに変換して FeedRenderer に適合させるアダプタ。
type FeedAdapter struct {
	source  GuideFeedSource
	channel feed.Channel
	now     func() time.Time
}

// NewFeedAdapter はFeedAdapterを生成する。
func NewFeedAdapter(source GuideFeedSource, channel feed.Channel) *FeedAdapter {
	return &FeedAdapter{source: source, channel: channel, now: time.Now}
}

// RenderFeed は新着ガイドのRSS文書を返す。
func (a *FeedAdapter) RenderFeed(ctx context.Context) ([]byte, error) {
	guides, err := a.source.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return feed.BuildRSS(a.channel, guides, a.now())
}

// --- compile-time interface checks ---

var _ SiteStatsProvider = (*SiteStatsAdapter)(nil)
var _ FeedRenderer = (*FeedAdapter)(nil)
