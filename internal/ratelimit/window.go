// Package ratelimit はプリンシパル単位のスライディングウィンドウ方式レート制限を提供する。
//
// 状態はプロセスのメモリにのみ保持し、再起動で失われる。キーの能動的な削除は行わず、
// 各キーのタイムスタンプはアクセス時の刈り込みでのみ減る。多数の識別子を持つ
// クライアントによってキー数が増え続ける可能性は既知の制約として扱う。
package ratelimit

import (
	"sync"
	"time"
)

// 既定のレート制限値
const (
	DefaultMax        = 100
	DefaultWindow     = 15 * time.Minute
	DefaultAuthMax    = 5
	DefaultAuthWindow = 15 * time.Minute
)

// Decision はレート制限の判定結果。
type Decision struct {
	Allowed    bool
	Remaining  int           // 許可後に残っているリクエスト数
	RetryAfter time.Duration // 拒否時、最古のエントリがウィンドウから外れるまでの時間
}

// Option はSlidingWindowのオプション。
type Option func(*SlidingWindow)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(sw *SlidingWindow) {
		sw.now = now
	}
}

// SlidingWindow はキーごとに直近のリクエスト時刻を保持し、ウィンドウ内の件数で制限する。
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewSlidingWindow はSlidingWindowを生成する。
// max が0以下の場合は DefaultMax、window が0以下の場合は DefaultWindow を使用する。
func NewSlidingWindow(max int, window time.Duration, opts ...Option) *SlidingWindow {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	sw := &SlidingWindow{
		max:     max,
		window:  window,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Check はキーのリクエストを判定する。状態を変更する唯一の操作。
// ウィンドウ外のエントリを刈り込み、残数が上限に達していれば記録せずに拒否する。
func (sw *SlidingWindow) Check(key string) Decision {
	now := sw.now()
	cutoff := now.Add(-sw.window)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	stamps := prune(sw.entries[key], cutoff)

	if len(stamps) >= sw.max {
		sw.entries[key] = stamps
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: stamps[0].Add(sw.window).Sub(now),
		}
	}

	stamps = append(stamps, now)
	sw.entries[key] = stamps
	return Decision{
		Allowed:   true,
		Remaining: sw.max - len(stamps),
	}
}

// Len は管理中のキー数を返す。テストおよびメトリクス用。
func (sw *SlidingWindow) Len() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.entries)
}

// Max は上限リクエスト数を返す。
func (sw *SlidingWindow) Max() int {
	return sw.max
}

// prune は cutoff 以前のタイムスタンプを先頭から取り除く。
// スライスは時刻順に並んでいる前提。
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	// 古い領域を解放するためコピーし直す
	kept := make([]time.Time, len(stamps)-i, cap(stamps))
	copy(kept, stamps[i:])
	return kept
}
