package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
)

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil || NewPostgresAccountTokenRepo(nil) == nil ||
		NewPostgresGuideRepo(nil) == nil || NewPostgresCommentRepo(nil) == nil ||
		NewPostgresRatingRepo(nil) == nil {
		t.Fatal("expected non-nil repos")
	}
}

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	u := insertUser(t, repo, "Alice_01")

	byID, err := repo.FindByID(ctx, u.ID)
	if err != nil || byID == nil {
		t.Fatalf("FindByID = %v, %v", byID, err)
	}
	if byID.Username != "Alice_01" || byID.Role != model.RoleUser || !byID.IsActive {
		t.Errorf("unexpected user: %+v", byID)
	}

	// 大文字小文字を区別しない
	if got, _ := repo.FindByEmail(ctx, "ALICE_01@EXAMPLE.COM"); got == nil || got.ID != u.ID {
		t.Errorf("FindByEmail should be case-insensitive, got %+v", got)
	}
	if got, _ := repo.FindByUsername(ctx, "alice_01"); got == nil || got.ID != u.ID {
		t.Errorf("FindByUsername should be case-insensitive, got %+v", got)
	}

	if hash, _ := repo.PasswordHash(ctx, u.ID); hash != "hash-Alice_01" {
		t.Errorf("PasswordHash = %q", hash)
	}

	missing, err := repo.FindByID(ctx, uuid.NewString())
	if err != nil || missing != nil {
		t.Errorf("missing user: got %v, %v; want nil, nil", missing, err)
	}
}

func TestPostgresUserRepo_DuplicateEmailIsConstraintViolation(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresUserRepo(db)

	u := insertUser(t, repo, "bob")
	dup := *u
	dup.ID = uuid.NewString()
	dup.Username = "bob2"
	dup.Email = "BOB@example.com"

	err := repo.Create(context.Background(), &dup, "hash")
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("err = %v, want ErrConstraintViolation", err)
	}
	if kind, _ := ConstraintKindOf(err); kind != ConstraintUnique {
		t.Errorf("kind = %q, want unique", kind)
	}
}

func TestPostgresUserRepo_RecordLoginFailureLocksAtThreshold(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := insertUser(t, repo, "carol")

	lockUntil := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	for i := 1; i <= 4; i++ {
		locked, err := repo.RecordLoginFailure(ctx, u.ID, 5, lockUntil)
		if err != nil || locked {
			t.Fatalf("attempt %d: locked=%v err=%v", i, locked, err)
		}
	}
	locked, err := repo.RecordLoginFailure(ctx, u.ID, 5, lockUntil)
	if err != nil || !locked {
		t.Fatalf("5th attempt: locked=%v err=%v; want locked", locked, err)
	}

	got, _ := repo.FindByID(ctx, u.ID)
	if got.FailedLoginAttempts != 0 {
		t.Errorf("counter should reset, got %d", got.FailedLoginAttempts)
	}
	if !got.IsLocked(time.Now()) {
		t.Error("user should be locked")
	}

	if err := repo.RecordLoginSuccess(ctx, u.ID, time.Now()); err != nil {
		t.Fatalf("RecordLoginSuccess: %v", err)
	}
	got, _ = repo.FindByID(ctx, u.ID)
	if got.LockedUntil != nil || got.LastLoginAt == nil {
		t.Errorf("lock should be cleared and last login set: %+v", got)
	}
}

func TestPostgresUserRepo_UpdatesOnlyAllowedFields(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := insertUser(t, repo, "dave")

	name := "Dave the Tank"
	got, err := repo.UpdateProfile(ctx, u.ID, model.UserProfileUpdate{DisplayName: &name})
	if err != nil || got == nil {
		t.Fatalf("UpdateProfile = %v, %v", got, err)
	}
	if got.DisplayName != name || got.Role != model.RoleUser {
		t.Errorf("unexpected user after profile update: %+v", got)
	}

	admin := model.RoleAdmin
	premium := true
	got, err = repo.UpdateAdmin(ctx, u.ID, model.UserAdminUpdate{Role: &admin, IsPremium: &premium})
	if err != nil || got.Role != model.RoleAdmin || !got.IsPremium {
		t.Errorf("UpdateAdmin = %+v, %v", got, err)
	}

	// 更新項目が無ければ現在の値を返す
	same, err := repo.UpdateProfile(ctx, u.ID, model.UserProfileUpdate{})
	if err != nil || same.DisplayName != name {
		t.Errorf("empty update = %+v, %v", same, err)
	}

	if missing, err := repo.UpdateProfile(ctx, uuid.NewString(), model.UserProfileUpdate{DisplayName: &name}); missing != nil || err != nil {
		t.Errorf("missing user update = %v, %v; want nil, nil", missing, err)
	}
}

func TestPostgresUserRepo_ListFiltersAndSort(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	insertUser(t, repo, "zed")
	insertUser(t, repo, "amy")
	gone := insertUser(t, repo, "ghost")
	if err := repo.SoftDelete(ctx, gone.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	active := true
	users, err := repo.List(ctx, model.UserFilter{IsActive: &active}, model.ListOptions{SortBy: "username", SortOrder: model.SortAsc})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 2 || users[0].Username != "amy" || users[1].Username != "zed" {
		t.Errorf("unexpected list: %v", users)
	}

	// 許可されていないソート列は既定の並びにフォールバックする
	users, err = repo.List(ctx, model.UserFilter{}, model.ListOptions{SortBy: "password_hash; DROP TABLE users"})
	if err != nil || len(users) != 3 {
		t.Errorf("fallback sort: %d users, err=%v", len(users), err)
	}

	users, _ = repo.List(ctx, model.UserFilter{Search: "gho"}, model.ListOptions{})
	if len(users) != 1 || users[0].ID != gone.ID {
		t.Errorf("search: %v", users)
	}

	counts, err := repo.Counts(ctx)
	if err != nil || counts.Total != 3 || counts.Active != 2 {
		t.Errorf("Counts = %+v, %v", counts, err)
	}
}

func TestPostgresAccountTokenRepo_ConsumeOnce(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresAccountTokenRepo(db)
	ctx := context.Background()
	u := insertUser(t, users, "erin")

	now := time.Now().UTC()
	tok := &model.AccountToken{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Purpose:   model.TokenPurposePasswordReset,
		TokenHash: "abc123",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := repo.Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 用途が違えば見つからない
	if got, _ := repo.Consume(ctx, model.TokenPurposeEmailVerification, "abc123"); got != nil {
		t.Fatal("purpose mismatch should not consume")
	}
	got, err := repo.Consume(ctx, model.TokenPurposePasswordReset, "abc123")
	if err != nil || got == nil || got.UserID != u.ID {
		t.Fatalf("Consume = %+v, %v", got, err)
	}
	if again, _ := repo.Consume(ctx, model.TokenPurposePasswordReset, "abc123"); again != nil {
		t.Error("token must be consumable only once")
	}

	expired := *tok
	expired.ID = uuid.NewString()
	expired.TokenHash = "old"
	expired.ExpiresAt = now.Add(-time.Hour)
	if err := repo.Create(ctx, &expired); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	n, err := repo.DeleteExpired(ctx, now)
	if err != nil || n != 1 {
		t.Errorf("DeleteExpired = %d, %v; want 1", n, err)
	}
}
