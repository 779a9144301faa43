package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
)

func TestPostgresGuideRepo_CreateFindAndSave(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresGuideRepo(db)
	ctx := context.Background()

	author := insertUser(t, users, "writer")
	g := insertGuide(t, repo, author.ID, "molten-core", model.GuideStatusDraft, "raid", "fire")

	got, err := repo.FindBySlug(ctx, "molten-core")
	if err != nil || got == nil {
		t.Fatalf("FindBySlug = %v, %v", got, err)
	}
	if got.AuthorUsername != "writer" || len(got.Tags) != 2 || got.Status != model.GuideStatusDraft {
		t.Errorf("unexpected guide: %+v", got)
	}

	exists, err := repo.SlugExists(ctx, "molten-core", "")
	if err != nil || !exists {
		t.Errorf("SlugExists = %v, %v; want true", exists, err)
	}
	if exists, _ := repo.SlugExists(ctx, "molten-core", g.ID); exists {
		t.Error("own slug should be excluded")
	}

	now := time.Now().UTC()
	if err := got.TransitionTo(model.GuideStatusPublished, now); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	got.Title = "Molten Core Guide"
	got.UpdatedAt = now
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved, _ := repo.FindByID(ctx, g.ID)
	if saved.Status != model.GuideStatusPublished || saved.PublishedAt == nil || saved.Title != "Molten Core Guide" {
		t.Errorf("unexpected saved guide: %+v", saved)
	}

	if err := repo.IncrementViews(ctx, g.ID); err != nil {
		t.Fatalf("IncrementViews: %v", err)
	}
	if saved, _ = repo.FindByID(ctx, g.ID); saved.Views != 1 {
		t.Errorf("views = %d, want 1", saved.Views)
	}

	if err := repo.SoftDelete(ctx, g.ID, now); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if saved, _ = repo.FindByID(ctx, g.ID); saved.Status != model.GuideStatusDeleted {
		t.Errorf("status = %s, want deleted", saved.Status)
	}

	if missing, err := repo.FindByID(ctx, uuid.NewString()); missing != nil || err != nil {
		t.Errorf("missing = %v, %v; want nil, nil", missing, err)
	}
}

func TestPostgresGuideRepo_ListAndRelated(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresGuideRepo(db)
	ctx := context.Background()

	author := insertUser(t, users, "author")
	a := insertGuide(t, repo, author.ID, "a", model.GuideStatusPublished, "pvp")
	b := insertGuide(t, repo, author.ID, "b", model.GuideStatusPublished, "pve", "raid")
	insertGuide(t, repo, author.ID, "c", model.GuideStatusDraft, "pvp")

	published, err := repo.List(ctx, model.GuideFilter{}, model.ListOptions{})
	if err != nil || len(published) != 2 {
		t.Fatalf("default list = %d, %v; want 2 published", len(published), err)
	}

	draft := model.GuideStatusDraft
	drafts, _ := repo.List(ctx, model.GuideFilter{Status: &draft, AuthorID: author.ID}, model.ListOptions{})
	if len(drafts) != 1 || drafts[0].Slug != "c" {
		t.Errorf("drafts = %v", drafts)
	}

	tagged, _ := repo.List(ctx, model.GuideFilter{Tags: []string{"raid"}}, model.ListOptions{})
	if len(tagged) != 1 || tagged[0].ID != b.ID {
		t.Errorf("tag filter = %v", tagged)
	}

	searched, _ := repo.List(ctx, model.GuideFilter{Search: "content of a"}, model.ListOptions{})
	if len(searched) != 1 || searched[0].ID != a.ID {
		t.Errorf("search = %v", searched)
	}

	related, err := repo.Related(ctx, a, 5)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	for _, g := range related {
		if g.ID == a.ID || g.Status != model.GuideStatusPublished {
			t.Errorf("related must exclude self and drafts: %+v", g)
		}
	}
	if len(related) != 1 {
		t.Errorf("related = %d, want 1 (same category)", len(related))
	}
}

func TestPostgresGuideRepo_RecomputeAggregates(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	guides := NewPostgresGuideRepo(db)
	ratings := NewPostgresRatingRepo(db)
	comments := NewPostgresCommentRepo(db)
	ctx := context.Background()

	author := insertUser(t, users, "author")
	g := insertGuide(t, guides, author.ID, "agg", model.GuideStatusPublished)

	now := time.Now().UTC()
	for i, score := range []int{5, 4, 4} {
		rater := insertUser(t, users, "rater"+string(rune('a'+i)))
		if err := ratings.Upsert(ctx, &model.Rating{ID: uuid.NewString(), GuideID: g.ID, UserID: rater.ID, Score: score, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := guides.RecomputeRating(ctx, g.ID); err != nil {
		t.Fatalf("RecomputeRating: %v", err)
	}

	for i := 0; i < 2; i++ {
		c := &model.Comment{ID: uuid.NewString(), GuideID: g.ID, UserID: author.ID, Content: "hi", IsApproved: true, CreatedAt: now, UpdatedAt: now}
		if err := comments.Create(ctx, c); err != nil {
			t.Fatalf("Create comment: %v", err)
		}
	}
	hidden := &model.Comment{ID: uuid.NewString(), GuideID: g.ID, UserID: author.ID, Content: "spam", IsApproved: false, CreatedAt: now, UpdatedAt: now}
	if err := comments.Create(ctx, hidden); err != nil {
		t.Fatalf("Create comment: %v", err)
	}
	if err := guides.RecomputeCommentCount(ctx, g.ID); err != nil {
		t.Fatalf("RecomputeCommentCount: %v", err)
	}

	got, _ := guides.FindByID(ctx, g.ID)
	if got.RatingAverage != 4.3 || got.RatingCount != 3 {
		t.Errorf("rating = %v/%d, want 4.3/3", got.RatingAverage, got.RatingCount)
	}
	if got.CommentsCount != 2 {
		t.Errorf("comments_count = %d, want 2", got.CommentsCount)
	}

	ids, err := guides.ListUpdatedSince(ctx, now.Add(-time.Minute), 10)
	if err != nil || len(ids) != 1 || ids[0] != g.ID {
		t.Errorf("ListUpdatedSince = %v, %v", ids, err)
	}

	stats, err := guides.Stats(ctx)
	if err != nil || stats.Published != 1 || stats.AverageRating != 4.3 {
		t.Errorf("Stats = %+v, %v", stats, err)
	}
}
