package ratelimit

import (
	"context"
	_ "embed"
	"github.com/redis/go-redis/v9"
	"strconv"
	"sync/atomic"
	"time"
)

//go:embed lua/slide_window.lua
var luaSlideWindow string

var _ Limiter = (*RedisSlideWindowLimiter)(nil)

// scripter is the part of redis.Cmdable the limiter needs.
type scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisSlideWindowLimiter shares one window per key across every process using the same redis.
type RedisSlideWindowLimiter struct {
	prefix string
	// 窗口内的流量阈值
	maxRate int
	// 窗口大小，毫秒
	interval int64
	client   scripter
	seq      atomic.Uint64
}

func NewRedisSlideWindowLimiter(client redis.Cmdable, prefix string, maxRate int, interval time.Duration) *RedisSlideWindowLimiter {
	return &RedisSlideWindowLimiter{
		client:   client,
		prefix:   prefix,
		maxRate:  maxRate,
		interval: interval.Milliseconds(),
	}
}

func (l *RedisSlideWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	// 同一毫秒内的请求也要是不同的成员
	member := strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(l.seq.Add(1), 36)
	// lua 脚本返回要不要限流
	limited, err := l.client.Eval(ctx, luaSlideWindow, []string{l.prefix + key},
		l.maxRate, l.interval, now.UnixMilli(), member).Bool()
	if err != nil {
		return false, err
	}
	return !limited, nil
}
