package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var _ Limiter = (*FixWindowLimiter)(nil)

type FixWindowLimiter struct {
	interval int64
	// 在 interval 内最多允许 maxRate 个请求
	maxRate int64
	windows sync.Map // key -> *fixWindow
}

type fixWindow struct {
	cnt                        int64
	latestWindowStartTimestamp int64
}

// NewFixWindowLimiter
// interval => 窗口多大
// maxRate 这个窗口内，能够执行多少个请求
func NewFixWindowLimiter(interval time.Duration, maxRate int64) *FixWindowLimiter {
	return &FixWindowLimiter{
		interval: interval.Nanoseconds(),
		maxRate:  maxRate,
	}
}

func (t *FixWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	val, ok := t.windows.Load(key)
	if !ok {
		val, _ = t.windows.LoadOrStore(key, &fixWindow{})
	}
	w := val.(*fixWindow)
	current := time.Now().UnixNano()
	window := atomic.LoadInt64(&w.latestWindowStartTimestamp)
	// 最近窗口的起始时间 + 窗口大小 < 当前时间戳，说明换窗口了
	if window+t.interval < current {
		// 任何一步 CAS 失败，都意味着有别的 goroutine 重置了，直接忽略
		if atomic.CompareAndSwapInt64(&w.latestWindowStartTimestamp, window, current) {
			atomic.StoreInt64(&w.cnt, 0)
		}
	}
	// 先取号，超过上限就拒绝
	return atomic.AddInt64(&w.cnt, 1) <= t.maxRate, nil
}
