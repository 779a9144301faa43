package auth

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/notify"
	"github.com/hitoshi/guidehub/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	createFn             func(ctx context.Context, user *model.User, hash string) error
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	findByUsernameFn     func(ctx context.Context, username string) (*model.User, error)
	passwordHashFn       func(ctx context.Context, id string) (string, error)
	updatePasswordFn     func(ctx context.Context, id, hash string) error
	touchLastActiveFn    func(ctx context.Context, id string, at time.Time) error
	recordLoginFailureFn func(ctx context.Context, id string, max int, lockUntil time.Time) (bool, error)
	recordLoginSuccessFn func(ctx context.Context, id string, at time.Time) error
	unlockFn             func(ctx context.Context, id string) error
	markEmailVerifiedFn  func(ctx context.Context, id string) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User, hash string) error {
	if m.createFn != nil {
		return m.createFn(ctx, user, hash)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) PasswordHash(ctx context.Context, id string) (string, error) {
	if m.passwordHashFn != nil {
		return m.passwordHashFn(ctx, id)
	}
	return "", nil
}

func (m *mockUserRepo) List(_ context.Context, _ model.UserFilter, _ model.ListOptions) ([]*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, _ string, _ model.UserProfileUpdate) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpdateAdmin(_ context.Context, _ string, _ model.UserAdminUpdate) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, hash)
	}
	return nil
}

func (m *mockUserRepo) SoftDelete(_ context.Context, _ string) error { return nil }

func (m *mockUserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	if m.touchLastActiveFn != nil {
		return m.touchLastActiveFn(ctx, id, at)
	}
	return nil
}

func (m *mockUserRepo) RecordLoginFailure(ctx context.Context, id string, max int, lockUntil time.Time) (bool, error) {
	if m.recordLoginFailureFn != nil {
		return m.recordLoginFailureFn(ctx, id, max, lockUntil)
	}
	return false, nil
}

func (m *mockUserRepo) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	if m.recordLoginSuccessFn != nil {
		return m.recordLoginSuccessFn(ctx, id, at)
	}
	return nil
}

func (m *mockUserRepo) Unlock(ctx context.Context, id string) error {
	if m.unlockFn != nil {
		return m.unlockFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	if m.markEmailVerifiedFn != nil {
		return m.markEmailVerifiedFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) Stats(_ context.Context, _ string) (*model.UserStats, error) {
	return &model.UserStats{}, nil
}

func (m *mockUserRepo) Counts(_ context.Context) (*model.UserCounts, error) {
	return &model.UserCounts{}, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

// memTokenRepo はアカウントトークンをメモリに保持するフェイク。
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.AccountToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*model.AccountToken)}
}

func (r *memTokenRepo) Create(_ context.Context, tok *model.AccountToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tok.TokenHash] = tok
	return nil
}

func (r *memTokenRepo) Consume(_ context.Context, purpose model.AccountTokenPurpose, hash string) (*model.AccountToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[hash]
	if !ok || tok.Purpose != purpose {
		return nil, nil
	}
	delete(r.tokens, hash)
	return tok, nil
}

func (r *memTokenRepo) DeleteByUser(_ context.Context, userID string, purpose model.AccountTokenPurpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, tok := range r.tokens {
		if tok.UserID == userID && tok.Purpose == purpose {
			delete(r.tokens, h)
		}
	}
	return nil
}

func (r *memTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

var _ repository.AccountTokenRepository = (*memTokenRepo)(nil)

// recordingPublisher は発行されたイベントを記録する。
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.AccountEmailEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.AccountEmailEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) last() notify.AccountEmailEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
