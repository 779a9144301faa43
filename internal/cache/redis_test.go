package cache

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRedisClient_EmptyURLDisablesCache(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if client := NewRedisClient(context.Background(), "", logger); client != nil {
		t.Fatal("empty URL should return nil client")
	}
	if buf.Len() != 0 {
		t.Errorf("empty URL should not log, got %s", buf.String())
	}
}

func TestNewRedisClient_InvalidURLDisablesCache(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if client := NewRedisClient(context.Background(), "not-a-redis-url://x", logger); client != nil {
		t.Fatal("invalid URL should return nil client")
	}
	if !strings.Contains(buf.String(), "REDIS_URL") {
		t.Errorf("expected warning log, got %s", buf.String())
	}
}

func TestNewRedisClient_UnreachableDisablesCache(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// 127.0.0.1:1 は接続を拒否される
	if client := NewRedisClient(context.Background(), "redis://127.0.0.1:1/0", logger); client != nil {
		t.Fatal("unreachable redis should return nil client")
	}
	if !strings.Contains(buf.String(), "127.0.0.1:1") {
		t.Errorf("expected addr in warning log, got %s", buf.String())
	}
}
