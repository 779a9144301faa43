// Package cache はRedisを使ったレスポンスキャッシュの保存先を提供する。
// Redisに接続できない場合はキャッシュ無しで動作する（nilクライアントを返す）。
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss はキャッシュにキーが存在しないことを示す。
var ErrMiss = errors.New("cache miss")

// pingTimeout は起動時の疎通確認のタイムアウト。
const pingTimeout = 2 * time.Second

// NewRedisClient はREDIS_URL形式の接続文字列からRedisクライアントを生成する。
// URLが空、解析に失敗した、または疎通確認に失敗した場合はnilを返し、
// 呼び出し側はキャッシュを無効として扱う。
func NewRedisClient(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("REDIS_URLの解析に失敗したためキャッシュを無効にします",
			slog.String("error", err.Error()),
		)
		return nil
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redisに接続できないためキャッシュを無効にします",
			slog.String("addr", opts.Addr),
			slog.String("error", err.Error()),
		)
		_ = client.Close()
		return nil
	}

	logger.Info("Redisに接続しました", slog.String("addr", opts.Addr))
	return client
}

// RedisStore はRedisをバックエンドとするキーバリューストア。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore はRedisStoreを生成する。キーにはprefixが付与される。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get はキーに対応する値を返す。存在しない場合は ErrMiss を返す。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return b, nil
}

// Set はキーに値をTTL付きで保存する。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
