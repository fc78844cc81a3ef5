package ratelimit

import (
	"sync"
	"time"
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// permissive is the decision used when limiting cannot be evaluated; the
// gateway fails open rather than rejecting client traffic.
func permissive(limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit}
}

// InMemoryLimiter counts requests per key in a fixed window.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{window: window, items: map[string]entry{}}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		return permissive(limit)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	e, ok := l.items[key]
	if !ok || now.After(e.resetAt) {
		e = entry{resetAt: now.Add(l.window)}
	}
	e.count++
	l.items[key] = e
	remaining := limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   e.count <= limit,
		Count:     e.count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   e.resetAt,
	}
}
