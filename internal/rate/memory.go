package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter: fixed window in-process. Mismo algoritmo que RedisLimiter,
// para desarrollo y tests. No sirve con más de una réplica.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string]*window
	Max    int64
	Window time.Duration
}

type window struct {
	start time.Time
	count int64
}

func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string]*window),
		Max:    int64(max),
		Window: win,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.hits[key]
	if !ok || w.start.Before(winStart) {
		w = &window{start: winStart}
		l.hits[key] = w
	}
	w.count++

	remaining := l.Max - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     w.count <= l.Max,
		Remaining:   remaining,
		CurrentHits: w.count,
		WindowTTL:   winStart.Add(l.Window).Sub(now),
	}
	if !res.Allowed {
		res.RetryAfter = res.WindowTTL
	}
	return res, nil
}
