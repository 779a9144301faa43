package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/guidehub/internal/model"
)

// --- モック定義 ---

type mockCommentService struct {
	createFn       func(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error)
	listForGuideFn func(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]model.CommentThread, error)
	repliesFn      func(ctx context.Context, commentID string) ([]*model.Comment, error)
	updateFn       func(ctx context.Context, actor *model.Principal, id string, upd model.CommentUpdate) (*model.Comment, error)
	deleteFn       func(ctx context.Context, actor *model.Principal, id string) error
	toggleLikeFn   func(ctx context.Context, actor *model.Principal, id string) (bool, int, error)
}

func (m *mockCommentService) Create(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, guideID, content, parentID)
	}
	return nil, nil
}

func (m *mockCommentService) ListForGuide(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]model.CommentThread, error) {
	if m.listForGuideFn != nil {
		return m.listForGuideFn(ctx, guideID, includeReplies, opts)
	}
	return nil, nil
}

func (m *mockCommentService) Replies(ctx context.Context, commentID string) ([]*model.Comment, error) {
	if m.repliesFn != nil {
		return m.repliesFn(ctx, commentID)
	}
	return nil, nil
}

func (m *mockCommentService) Update(ctx context.Context, actor *model.Principal, id string, upd model.CommentUpdate) (*model.Comment, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, id, upd)
	}
	return nil, nil
}

func (m *mockCommentService) Delete(ctx context.Context, actor *model.Principal, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, id)
	}
	return nil
}

func (m *mockCommentService) ToggleLike(ctx context.Context, actor *model.Principal, id string) (bool, int, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, actor, id)
	}
	return false, 0, nil
}

func sampleThread() model.CommentThread {
	parent := "c-1"
	return model.CommentThread{
		Comment: model.Comment{ID: "c-1", GuideID: "g-1", UserID: testAuthor.UserID, Username: "author", Content: "top", IsApproved: true},
		Replies: []model.Comment{
			{ID: "c-2", GuideID: "g-1", ParentID: &parent, UserID: testAdmin.UserID, Username: "admin", Content: "reply", IsApproved: true},
		},
	}
}

// --- テスト ---

func TestCommentHandler_List(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantReplies bool
	}{
		{"返信なし", "", false},
		{"返信あり", "?include_replies=true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInclude bool
			svc := &mockCommentService{
				listForGuideFn: func(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]model.CommentThread, error) {
					gotInclude = includeReplies
					return []model.CommentThread{sampleThread()}, nil
				},
			}
			req := withURLParams(newRequest(http.MethodGet, "/api/guides/g-1/comments"+tt.query, ""), "id", "g-1")
			w := httptest.NewRecorder()
			NewCommentHandler(svc, false).List(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if gotInclude != tt.wantReplies {
				t.Errorf("includeReplies = %v, want %v", gotInclude, tt.wantReplies)
			}
			comments := decodeBody(t, w)["comments"].([]any)
			top := comments[0].(map[string]any)
			replies, has := top["replies"]
			if has != tt.wantReplies {
				t.Fatalf("replies key present = %v, want %v", has, tt.wantReplies)
			}
			if tt.wantReplies && len(replies.([]any)) != 1 {
				t.Errorf("replies = %v", replies)
			}
		})
	}
}

func TestCommentHandler_Create_Reply(t *testing.T) {
	var gotGuide, gotContent string
	var gotParent *string
	svc := &mockCommentService{
		createFn: func(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error) {
			gotGuide, gotContent, gotParent = guideID, content, parentID
			return &model.Comment{ID: "c-3", GuideID: guideID, ParentID: parentID, Content: content, IsApproved: true}, nil
		},
	}
	req := withURLParams(newRequest(http.MethodPost, "/api/guides/g-1/comments", `{"content":"thanks","parent_id":"c-1"}`), "id", "g-1")
	w := httptest.NewRecorder()
	NewCommentHandler(svc, false).Create(w, withPrincipal(req, testAuthor))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if gotGuide != "g-1" || gotContent != "thanks" || gotParent == nil || *gotParent != "c-1" {
		t.Errorf("guide=%s content=%s parent=%v", gotGuide, gotContent, gotParent)
	}
	comment := decodeBody(t, w)["comment"].(map[string]any)
	if comment["parent_id"] != "c-1" {
		t.Errorf("parent_id = %v", comment["parent_id"])
	}
}

func TestCommentHandler_Create_NestedReplyRejected(t *testing.T) {
	svc := &mockCommentService{
		createFn: func(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error) {
			return nil, model.NewValidationError(model.FieldError{Field: "parent_id", Message: "Replies cannot be nested."})
		},
	}
	req := withURLParams(newRequest(http.MethodPost, "/api/guides/g-1/comments", `{"content":"x","parent_id":"c-2"}`), "id", "g-1")
	w := httptest.NewRecorder()
	NewCommentHandler(svc, false).Create(w, withPrincipal(req, testAuthor))
	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeValidationFailed)
}

func TestCommentHandler_ToggleLike(t *testing.T) {
	svc := &mockCommentService{
		toggleLikeFn: func(ctx context.Context, actor *model.Principal, id string) (bool, int, error) {
			return true, 7, nil
		},
	}
	req := withURLParams(newRequest(http.MethodPost, "/api/comments/c-1/like", ""), "id", "c-1")
	w := httptest.NewRecorder()
	NewCommentHandler(svc, false).ToggleLike(w, withPrincipal(req, testAuthor))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["liked"] != true || body["likes_count"] != float64(7) {
		t.Errorf("body = %v", body)
	}
}

func TestCommentHandler_UpdateAndDelete(t *testing.T) {
	t.Run("本人以外の更新は403", func(t *testing.T) {
		svc := &mockCommentService{
			updateFn: func(ctx context.Context, actor *model.Principal, id string, upd model.CommentUpdate) (*model.Comment, error) {
				return nil, model.NewForbiddenError("You can only edit your own comments.")
			},
		}
		req := withURLParams(newRequest(http.MethodPut, "/api/comments/c-1", `{"content":"edit"}`), "id", "c-1")
		w := httptest.NewRecorder()
		NewCommentHandler(svc, false).Update(w, withPrincipal(req, testAdmin))
		assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeForbidden)
	})

	t.Run("削除成功", func(t *testing.T) {
		var gotID string
		svc := &mockCommentService{
			deleteFn: func(ctx context.Context, actor *model.Principal, id string) error {
				gotID = id
				return nil
			},
		}
		req := withURLParams(newRequest(http.MethodDelete, "/api/comments/c-1", ""), "id", "c-1")
		w := httptest.NewRecorder()
		NewCommentHandler(svc, false).Delete(w, withPrincipal(req, testAuthor))
		if w.Code != http.StatusOK || gotID != "c-1" {
			t.Errorf("status=%d id=%s", w.Code, gotID)
		}
	})
}
