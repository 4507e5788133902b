// Package ratelimit decides whether a call of an operation key may proceed.
package ratelimit

import "context"

// Limiter admits or rejects one call of key. An error means the decision
// could not be made.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// OperationLimiter applies Limiter to a single operation key and admits every other key.
type OperationLimiter struct {
	Limiter
	OperationKey string
}

func (m *OperationLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == m.OperationKey {
		return m.Limiter.Allow(ctx, key)
	}
	return true, nil
}

// Chain admits a call only when every limiter admits it.
type Chain []Limiter

func (c Chain) Allow(ctx context.Context, key string) (bool, error) {
	for _, l := range c {
		ok, err := l.Allow(ctx, key)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
