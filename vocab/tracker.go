// Package vocab 跟踪各可增长维度（用户、物品、题材）当前已知的最大标识符。
package vocab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/core"
)

// DefaultRefreshInterval 是上界缓存的默认有效期。
const DefaultRefreshInterval = 30 * time.Second

// Tracker 是 VocabularyTracker：读取目录中的最大 ID，并保证进程内单调不减。
// 对目录只读；并发安全。
type Tracker struct {
	src      core.BoundsSource
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu        sync.Mutex
	bounds    core.Bounds
	refreshed time.Time
}

// Option 配置 Tracker。
type Option func(*Tracker)

// WithRefreshInterval 设置缓存有效期；<= 0 表示每次都读取目录。
func WithRefreshInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithLogger 设置日志。
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l.With().Str("component", "vocab").Logger() }
}

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(src core.BoundsSource, opts ...Option) *Tracker {
	t := &Tracker{
		src:      src,
		interval: DefaultRefreshInterval,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CurrentBounds 返回当前上界；缓存未过期时不访问目录。
func (t *Tracker) CurrentBounds(ctx context.Context) (core.Bounds, error) {
	t.mu.Lock()
	if !t.refreshed.IsZero() && t.interval > 0 && t.now().Sub(t.refreshed) < t.interval {
		b := t.bounds
		t.mu.Unlock()
		return b, nil
	}
	t.mu.Unlock()
	return t.Refresh(ctx)
}

// Refresh 强制从目录读取上界，并与之前的快照逐维取最大值。
func (t *Tracker) Refresh(ctx context.Context) (core.Bounds, error) {
	fresh, err := t.src.MaxIDs(ctx)
	if err != nil {
		return core.Bounds{}, fmt.Errorf("vocab: max ids: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.bounds
	t.bounds = t.bounds.Max(fresh)
	t.refreshed = t.now()
	if t.bounds != prev {
		t.logger.Debug().
			Int64("users", t.bounds.Users).
			Int64("items", t.bounds.Items).
			Int64("categories", t.bounds.Categories).
			Msg("vocabulary bounds advanced")
	}
	return t.bounds, nil
}
