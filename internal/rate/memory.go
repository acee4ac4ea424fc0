package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// MemoryLimiter is the single-process counterpart of [RedisLimiter].
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

// NewMemory returns a MemoryLimiter. A nil now uses time.Now.
func NewMemory(cfg Config, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		config:  cfg.withDefaults(),
		now:     now,
		windows: make(map[string]window),
	}
}

func (l *MemoryLimiter) keys(username, ip string) []string {
	keys := []string{"u:" + canonicalUsername(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, "i:"+ip)
	}
	return keys
}

// Acquire implements the limiter contract of [RedisLimiter.Acquire]. Every
// key is checked before any is incremented, all under one lock.
func (l *MemoryLimiter) Acquire(ctx context.Context, username, ip string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := l.now()
	keys := l.keys(username, ip)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		w, ok := l.windows[k]
		if !ok {
			continue
		}
		if !now.Before(w.until) {
			delete(l.windows, k)
			continue
		}
		if w.count >= l.config.MaxAttempts {
			return ErrRateLimited
		}
	}
	for _, k := range keys {
		w, ok := l.windows[k]
		if !ok {
			w = window{until: now.Add(l.config.Cooldown)}
		}
		w.count++
		l.windows[k] = w
	}
	return nil
}

// Release implements the limiter contract of [RedisLimiter.Release].
func (l *MemoryLimiter) Release(ctx context.Context, username, ip string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.keys(username, ip) {
		w, ok := l.windows[k]
		if !ok || w.count == 0 {
			continue
		}
		w.count--
		l.windows[k] = w
	}
	return nil
}

// Reset implements the limiter contract of [RedisLimiter.Reset].
func (l *MemoryLimiter) Reset(ctx context.Context, username, ip string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.keys(username, ip) {
		delete(l.windows, k)
	}
	return nil
}

// RetryAfter reports how long username stays blocked, or zero.
func (l *MemoryLimiter) RetryAfter(username string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows["u:"+canonicalUsername(username)]
	if !ok || w.count < l.config.MaxAttempts || !now.Before(w.until) {
		return 0
	}
	return w.until.Sub(now)
}
