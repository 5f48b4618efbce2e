package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// actorLimiter keeps one token bucket per actor. A nil *actorLimiter
// allows everything.
type actorLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	every    rate.Limit
	burst    int
}

func newActorLimiter(perMinute int) *actorLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &actorLimiter{
		limiters: make(map[int64]*rate.Limiter),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether actorID may make a request now.
func (l *actorLimiter) Allow(actorID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[actorID]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[actorID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
