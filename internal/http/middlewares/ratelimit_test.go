package middlewares

import (
	"context"
	"time"

	"github.com/mercaflow/mercaflow/internal/rate"
)

// allowN retorna un limiter que permite n requests por key y después corta.
func allowN(n int64) rate.Limiter {
	return &countingLimiter{max: n, hits: make(map[string]int64)}
}

type countingLimiter struct {
	max  int64
	hits map[string]int64
}

func (l *countingLimiter) Allow(_ context.Context, key string) (rate.Result, error) {
	l.hits[key]++
	if l.hits[key] > l.max {
		return rate.Result{Allowed: false, RetryAfter: time.Minute}, nil
	}
	return rate.Result{Allowed: true, Remaining: l.max - l.hits[key]}, nil
}
