package repository

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/database"
	"github.com/hitoshi/guidehub/internal/model"
)

// repoTestSchema はリポジトリテスト専用のスキーマ。
// database パッケージのテストがpublicスキーマのテーブルを作り直すため分離する。
const repoTestSchema = "guidehub_repo_test"

// setupRepoDB は TEST_DATABASE_URL のデータベースに専用スキーマを用意し、
// マイグレーション適用済み・全テーブル空の接続を返す。未設定の場合はスキップする。
func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()

	baseURL := os.Getenv("TEST_DATABASE_URL")
	if baseURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	base, err := database.Open(baseURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer base.Close()
	if err := base.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := base.Exec(`CREATE SCHEMA IF NOT EXISTS ` + repoTestSchema); err != nil {
		t.Fatalf("スキーマの作成に失敗: %v", err)
	}

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	url := baseURL + sep + "search_path=" + repoTestSchema

	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}

	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`TRUNCATE users, account_tokens, guides, ratings, comments, comment_likes CASCADE`); err != nil {
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}
	return db
}

// insertUser はテスト用のユーザーを作成する。
func insertUser(t *testing.T, repo *PostgresUserRepo, username string) *model.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &model.User{
		ID:          uuid.NewString(),
		Email:       username + "@example.com",
		Username:    username,
		DisplayName: strings.ToUpper(username),
		Role:        model.RoleUser,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(context.Background(), u, "hash-"+username); err != nil {
		t.Fatalf("ユーザーの作成に失敗: %v", err)
	}
	return u
}

// insertGuide はテスト用のガイドを作成する。
func insertGuide(t *testing.T, repo *PostgresGuideRepo, authorID, slug string, status model.GuideStatus, tags ...string) *model.Guide {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	g := &model.Guide{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Title:     "Guide " + slug,
		Slug:      slug,
		Content:   "<p>content of " + slug + "</p>",
		Excerpt:   "content of " + slug,
		Category:  "dungeons",
		Tags:      tags,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == model.GuideStatusPublished {
		g.PublishedAt = &now
	}
	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("ガイドの作成に失敗: %v", err)
	}
	return g
}
