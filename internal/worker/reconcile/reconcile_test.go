package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// --- モック定義 ---

type mockGuides struct {
	listFn         func(ctx context.Context, since time.Time, limit int) ([]string, error)
	ratingErr      map[string]error
	ratingCalls    []string
	commentCalls   []string
	listSinceCalls []time.Time
}

func (m *mockGuides) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	m.listSinceCalls = append(m.listSinceCalls, since)
	if m.listFn != nil {
		return m.listFn(ctx, since, limit)
	}
	return nil, nil
}

func (m *mockGuides) RecomputeRating(_ context.Context, id string) error {
	m.ratingCalls = append(m.ratingCalls, id)
	return m.ratingErr[id]
}

func (m *mockGuides) RecomputeCommentCount(_ context.Context, id string) error {
	m.commentCalls = append(m.commentCalls, id)
	return nil
}

type fakeRecorder struct {
	counts []int
}

func (f *fakeRecorder) RecordAggregatesReconciled(count int) {
	f.counts = append(f.counts, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(guides *mockGuides, recorder Recorder, buf *bytes.Buffer, config Config) *Job {
	j := NewJob(guides, recorder, newTestLogger(buf), config)
	j.now = func() time.Time { return baseTime }
	return j
}

// --- テスト ---

func TestNewJob_AppliesDefaults(t *testing.T) {
	var buf bytes.Buffer
	j := NewJob(&mockGuides{}, nil, newTestLogger(&buf), Config{})

	if j.config != DefaultConfig() {
		t.Errorf("config = %+v, want %+v", j.config, DefaultConfig())
	}
}

func TestRunOnce_RecomputesEveryGuide(t *testing.T) {
	var buf bytes.Buffer
	guides := &mockGuides{
		listFn: func(_ context.Context, _ time.Time, limit int) ([]string, error) {
			if limit != 10 {
				t.Errorf("limit = %d, want 10", limit)
			}
			return []string{"g1", "g2"}, nil
		},
	}
	recorder := &fakeRecorder{}
	j := newTestJob(guides, recorder, &buf, Config{BatchSize: 10})

	n, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 2 {
		t.Errorf("reconciled = %d, want 2", n)
	}
	if strings.Join(guides.ratingCalls, ",") != "g1,g2" || strings.Join(guides.commentCalls, ",") != "g1,g2" {
		t.Errorf("rating=%v comment=%v", guides.ratingCalls, guides.commentCalls)
	}
	if len(recorder.counts) != 1 || recorder.counts[0] != 2 {
		t.Errorf("recorded = %v, want [2]", recorder.counts)
	}
	if !strings.Contains(buf.String(), "集計再計算サイクルが完了しました") {
		t.Errorf("completion log missing: %s", buf.String())
	}
}

func TestRunOnce_FirstCycleUsesLookbackThenAdvances(t *testing.T) {
	var buf bytes.Buffer
	guides := &mockGuides{}
	j := newTestJob(guides, nil, &buf, Config{InitialLookback: time.Hour})

	if _, err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}
	if _, err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}

	if len(guides.listSinceCalls) != 2 {
		t.Fatalf("list calls = %d, want 2", len(guides.listSinceCalls))
	}
	if want := baseTime.Add(-time.Hour); !guides.listSinceCalls[0].Equal(want) {
		t.Errorf("first since = %v, want %v", guides.listSinceCalls[0], want)
	}
	if !guides.listSinceCalls[1].Equal(baseTime) {
		t.Errorf("second since = %v, want %v", guides.listSinceCalls[1], baseTime)
	}
}

func TestRunOnce_PartialFailureKeepsWatermark(t *testing.T) {
	var buf bytes.Buffer
	guides := &mockGuides{
		listFn: func(context.Context, time.Time, int) ([]string, error) {
			return []string{"ok", "broken"}, nil
		},
		ratingErr: map[string]error{"broken": errors.New("deadlock")},
	}
	recorder := &fakeRecorder{}
	j := newTestJob(guides, recorder, &buf, Config{})

	n, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("reconciled = %d, want 1", n)
	}
	if !j.since.IsZero() {
		t.Errorf("since should not advance after failure, got %v", j.since)
	}
	if !strings.Contains(buf.String(), "broken") {
		t.Errorf("failed guide should be logged: %s", buf.String())
	}
}

func TestRunOnce_FullBatchKeepsWatermark(t *testing.T) {
	var buf bytes.Buffer
	guides := &mockGuides{
		listFn: func(context.Context, time.Time, int) ([]string, error) {
			return []string{"a", "b"}, nil
		},
	}
	j := newTestJob(guides, nil, &buf, Config{BatchSize: 2})

	if _, err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !j.since.IsZero() {
		t.Errorf("since should not advance when batch is full, got %v", j.since)
	}
}

func TestRunOnce_ListErrorIsReturned(t *testing.T) {
	var buf bytes.Buffer
	guides := &mockGuides{
		listFn: func(context.Context, time.Time, int) ([]string, error) {
			return nil, errors.New("connection refused")
		},
	}
	j := newTestJob(guides, nil, &buf, Config{})

	if _, err := j.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnce_BacksOffAfterListError(t *testing.T) {
	var buf bytes.Buffer
	fail := true
	guides := &mockGuides{
		listFn: func(context.Context, time.Time, int) ([]string, error) {
			if fail {
				return nil, errors.New("connection refused")
			}
			return []string{"g1"}, nil
		},
	}
	now := baseTime
	j := NewJob(guides, nil, newTestLogger(&buf), Config{Interval: 10 * time.Minute})
	j.now = func() time.Time { return now }

	if _, err := j.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	fail = false

	now = now.Add(5 * time.Minute)
	n, err := j.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("during backoff: n=%d err=%v, want skip", n, err)
	}
	if len(guides.listSinceCalls) != 1 {
		t.Errorf("list should not be called during backoff, calls = %d", len(guides.listSinceCalls))
	}

	now = now.Add(10 * time.Minute)
	if n, err := j.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("after backoff: n=%d err=%v, want 1", n, err)
	}
	if j.consecutiveErrors != 0 {
		t.Errorf("consecutiveErrors = %d, want reset to 0", j.consecutiveErrors)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{1, 30 * time.Minute},
		{2, time.Hour},
		{3, 2 * time.Hour},
		{5, 6 * time.Hour},
		{20, 6 * time.Hour},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(30*time.Minute, tt.errors); got != tt.want {
			t.Errorf("CalculateBackoff(30m, %d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	j := newTestJob(&mockGuides{}, nil, &buf, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
