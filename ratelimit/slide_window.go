package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

var _ Limiter = (*SlideWindowLimiter)(nil)

type SlideWindowLimiter struct {
	// 上限
	maxRate  int
	interval time.Duration
	windows  sync.Map // key -> *slideWindow
}

type slideWindow struct {
	mutex sync.Mutex
	// 缓存住窗口内每一个请求的时间戳
	queue *list.List
}

func NewSlideWindowLimiter(rate int, interval time.Duration) *SlideWindowLimiter {
	return &SlideWindowLimiter{
		maxRate:  rate,
		interval: interval,
	}
}

func (l *SlideWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	val, ok := l.windows.Load(key)
	if !ok {
		val, _ = l.windows.LoadOrStore(key, &slideWindow{queue: list.New()})
	}
	w := val.(*slideWindow)

	current := time.Now()
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.queue.Len() < l.maxRate {
		w.queue.PushBack(current)
		return true, nil
	}
	// 慢路径，往前回溯，移除不在窗口里面的请求
	windowStartTime := current.Add(-l.interval)
	reqTime := w.queue.Front()
	for reqTime != nil && reqTime.Value.(time.Time).Before(windowStartTime) {
		w.queue.Remove(reqTime)
		reqTime = w.queue.Front()
	}
	if w.queue.Len() >= l.maxRate {
		return false, nil
	}
	w.queue.PushBack(current)
	return true, nil
}
