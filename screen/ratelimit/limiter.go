// Package ratelimit 实现面向上游配额的 TPM（tokens-per-minute）滑动窗口
// 限流器，以及可选的请求速率限制。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// waitBuffer 等待时间附加缓冲，抵消计时误差。
const waitBuffer = 50 * time.Millisecond

// windowSize 限流窗口长度。
const windowSize = 60 * time.Second

// windowEntry 一次已放行请求的 (时间戳, token 数) 记录。
type windowEntry struct {
	ts     time.Time
	tokens int
}

// TPMLimiter 维护最近 60 秒的 (timestamp, tokens) 滑动窗口，
// 放行前保证窗口内 token 总量加上本次请求不超过配置上限。
//
// check-wait-append 全程持锁：窗口饱和时各 worker 的放行被串行化，
// 宁可多等也不超限（近似自校正节流，非硬实时保证）。
type TPMLimiter struct {
	limit  int
	logger *zap.Logger

	mu     sync.Mutex
	window []windowEntry

	requests *rate.Limiter // 可选的请求速率限制，nil 表示禁用

	// 可注入时钟与睡眠，便于测试
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config 限流配置。
type Config struct {
	// TPMLimit 每分钟 token 上限；0 表示禁用 token 限流
	TPMLimit int `json:"tpm_limit" yaml:"tpm_limit"`
	// RPMLimit 每分钟请求数上限；0 表示禁用请求限流
	RPMLimit int `json:"rpm_limit" yaml:"rpm_limit"`
}

// New 创建限流器。TPMLimit 与 RPMLimit 为 0 时各自禁用。
func New(cfg Config, logger *zap.Logger) *TPMLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &TPMLimiter{
		limit:  cfg.TPMLimit,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	if cfg.RPMLimit > 0 {
		l.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RPMLimit)), 1)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Admit 阻塞直到放行 tokensRequested 个 token 不会使最近 60 秒窗口
// 超过 TPM 上限，然后记录本次放行。限流禁用时为空操作。
// 返回本次放行实际阻塞的时长，供调用方上报指标；
// 仅在 context 取消时返回错误。
func (l *TPMLimiter) Admit(ctx context.Context, tokensRequested int) (time.Duration, error) {
	var waited time.Duration
	if l.requests != nil {
		start := l.now()
		if err := l.requests.Wait(ctx); err != nil {
			return 0, err
		}
		waited += l.now().Sub(start)
	}
	if l.limit <= 0 {
		return waited, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	used := 0
	for _, e := range l.window {
		used += e.tokens
	}

	if used+tokensRequested > l.limit && len(l.window) > 0 {
		oldest := l.window[0].ts
		wait := windowSize - now.Sub(oldest) + waitBuffer
		if wait > 0 {
			l.logger.Debug("触发 TPM 限流",
				zap.Int("used_last_minute", used),
				zap.Int("tokens_requested", tokensRequested),
				zap.Duration("wait", wait))
			if err := l.sleep(ctx, wait); err != nil {
				return 0, err
			}
			waited += wait
		}
		// 单次等待后即放行：近似节流，上游配额计数自会校正
		now = l.now()
		l.purge(now)
	}

	l.window = append(l.window, windowEntry{ts: now, tokens: tokensRequested})
	return waited, nil
}

// purge 丢弃窗口中早于 now-60s 的记录。调用方必须持有 l.mu。
func (l *TPMLimiter) purge(now time.Time) {
	cutoff := now.Add(-windowSize)
	keep := l.window[:0]
	for _, e := range l.window {
		if e.ts.After(cutoff) {
			keep = append(keep, e)
		}
	}
	l.window = keep
}

// WindowTokens 返回当前窗口内的 token 总量（诊断用）。
func (l *TPMLimiter) WindowTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	total := 0
	for _, e := range l.window {
		total += e.tokens
	}
	return total
}
