package ratelimit

import (
	"context"
	"golang.org/x/time/rate"
	"sync"
)

var _ Limiter = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter keeps one bucket per key.
type TokenBucketLimiter struct {
	qps     rate.Limit
	burst   int
	buckets sync.Map // key -> *rate.Limiter
}

// NewTokenBucketLimiter 每个 key 每秒产生 qps 个令牌，最多攒 burst 个
func NewTokenBucketLimiter(qps float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{qps: rate.Limit(qps), burst: burst}
}

func (t *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	b, ok := t.buckets.Load(key)
	if !ok {
		b, _ = t.buckets.LoadOrStore(key, rate.NewLimiter(t.qps, t.burst))
	}
	return b.(*rate.Limiter).Allow(), nil
}
