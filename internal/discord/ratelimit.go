package discord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter gives every user their own token bucket.
type userLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu    sync.Mutex
	users map[string]*userBucket
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newUserLimiter(every rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		every: every,
		burst: burst,
		idle:  10 * time.Minute,
		now:   time.Now,
		users: make(map[string]*userBucket),
	}
}

func (l *userLimiter) Allow(userID string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.users[userID]
	if !ok {
		if len(l.users) >= 1024 {
			l.pruneLocked(now)
		}
		b = &userBucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.users[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *userLimiter) pruneLocked(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.seen) > l.idle {
			delete(l.users, id)
		}
	}
}
