package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
)

func newAccountToken(userID string, purpose model.AccountTokenPurpose, hash string, expiresAt time.Time) *model.AccountToken {
	return &model.AccountToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPostgresAccountTokenRepo_ConsumeIsSingleUse(t *testing.T) {
	db := setupRepoDB(t)
	ctx := context.Background()
	u := insertUser(t, NewPostgresUserRepo(db), "alice")
	repo := NewPostgresAccountTokenRepo(db)

	tok := newAccountToken(u.ID, model.TokenPurposePasswordReset, "hash-1", time.Now().Add(time.Hour))
	if err := repo.Create(ctx, tok); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 用途が違えば一致しない
	got, err := repo.Consume(ctx, model.TokenPurposeEmailVerification, "hash-1")
	if err != nil || got != nil {
		t.Fatalf("Consume(wrong purpose) = %+v, %v, want nil, nil", got, err)
	}

	got, err = repo.Consume(ctx, model.TokenPurposePasswordReset, "hash-1")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got == nil || got.UserID != u.ID || got.Purpose != model.TokenPurposePasswordReset {
		t.Fatalf("Consume() = %+v", got)
	}

	got, err = repo.Consume(ctx, model.TokenPurposePasswordReset, "hash-1")
	if err != nil || got != nil {
		t.Errorf("second Consume() = %+v, %v, want nil, nil", got, err)
	}
}

func TestPostgresAccountTokenRepo_DeleteByUserAndExpired(t *testing.T) {
	db := setupRepoDB(t)
	ctx := context.Background()
	u := insertUser(t, NewPostgresUserRepo(db), "bob")
	repo := NewPostgresAccountTokenRepo(db)

	now := time.Now().UTC()
	tokens := []*model.AccountToken{
		newAccountToken(u.ID, model.TokenPurposeEmailVerification, "verify", now.Add(time.Hour)),
		newAccountToken(u.ID, model.TokenPurposePasswordReset, "reset-live", now.Add(time.Hour)),
		newAccountToken(u.ID, model.TokenPurposePasswordReset, "reset-old", now.Add(-48*time.Hour)),
	}
	for _, tok := range tokens {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := repo.DeleteExpired(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}

	if err := repo.DeleteByUser(ctx, u.ID, model.TokenPurposePasswordReset); err != nil {
		t.Fatalf("DeleteByUser() error = %v", err)
	}
	if got, _ := repo.Consume(ctx, model.TokenPurposePasswordReset, "reset-live"); got != nil {
		t.Error("password reset token should be deleted")
	}
	if got, _ := repo.Consume(ctx, model.TokenPurposeEmailVerification, "verify"); got == nil {
		t.Error("verification token must survive DeleteByUser for another purpose")
	}
}
