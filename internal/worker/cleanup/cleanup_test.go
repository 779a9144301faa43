package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockPurger は TokenPurger のモック。
type mockPurger struct {
	called  int
	before  time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.called++
	m.before = before
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(purger *mockPurger, buf *bytes.Buffer) *CleanupJob {
	job := NewCleanupJob(purger, newTestLogger(buf))
	job.now = func() time.Time { return fixedNow }
	return job
}

// logHasField はJSONログのいずれかの行に key=want が含まれるかを返す。
func logHasField(buf *bytes.Buffer, key string, want interface{}) bool {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok && (want == nil || v == want) {
			return true
		}
	}
	return false
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf))

	if job.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", job.Interval)
	}
	if job.Grace != 24*time.Hour {
		t.Errorf("Grace = %v, want 24h", job.Grace)
	}
}

func TestCleanupJob_Run_DeletesBeforeGrace(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{deleted: 5}
	job := newTestJob(purger, &buf)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if purger.called != 1 {
		t.Fatalf("DeleteExpired 呼び出し回数 = %d, want 1", purger.called)
	}
	if want := fixedNow.Add(-24 * time.Hour); !purger.before.Equal(want) {
		t.Errorf("before = %v, want %v", purger.before, want)
	}
	if !logHasField(&buf, "deleted_count", float64(5)) {
		t.Errorf("ログに deleted_count=5 が記録されていない: %s", buf.String())
	}
	if !logHasField(&buf, "duration_ms", nil) {
		t.Errorf("ログに duration_ms が記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_CustomGrace(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := newTestJob(purger, &buf)
	job.Grace = 0

	_ = job.Run(context.Background())

	if !purger.before.Equal(fixedNow) {
		t.Errorf("before = %v, want %v", purger.before, fixedNow)
	}
}

func TestCleanupJob_Run_ZeroRowsIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := newTestJob(purger, &buf)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if !logHasField(&buf, "deleted_count", float64(0)) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	job := newTestJob(&mockPurger{err: sql.ErrConnDone}, &buf)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := newTestJob(purger, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
	if purger.called < 1 {
		t.Error("起動直後に1回実行されるべき")
	}
}
