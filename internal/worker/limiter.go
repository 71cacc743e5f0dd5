package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces batch queries per source relation so that large
// cohort scans do not saturate a shared analytical database. Each
// relation gets its own token bucket.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter allowing queriesPerSecond per relation.
func NewLimiter(queriesPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(queriesPerSecond),
		defaultBurst: burst,
	}
}

// Wait blocks until the relation's bucket allows another query.
func (l *Limiter) Wait(ctx context.Context, relation string) error {
	return l.getLimiter(relation).Wait(ctx)
}

// Allow checks whether a query may run now without waiting.
func (l *Limiter) Allow(relation string) bool {
	return l.getLimiter(relation).Allow()
}

func (l *Limiter) getLimiter(relation string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[relation]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[relation]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[relation] = limiter
	return limiter
}

// SetRelationRate overrides the rate for one relation, e.g. to slow
// scans of the widest table.
func (l *Limiter) SetRelationRate(relation string, queriesPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.limiters[relation] = rate.NewLimiter(rate.Limit(queriesPerSecond), burst)
}
