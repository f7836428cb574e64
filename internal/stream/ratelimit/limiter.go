package ratelimit

import (
	"sync"
	"time"
)

// DefaultMinInterval is the minimum spacing between content pushes per user.
const DefaultMinInterval = time.Second

// Limiter gates how often content deltas may trigger a push for a user.
// It only tracks the last admitted instant per user id; users never affect
// each other.
type Limiter struct {
	mu          sync.Mutex
	last        map[int64]time.Time
	minInterval time.Duration
	now         func() time.Time
}

// New creates a limiter. A non-positive interval admits every call; a nil
// clock falls back to time.Now.
func New(minInterval time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		last:        make(map[int64]time.Time),
		minInterval: minInterval,
		now:         now,
	}
}

// ShouldUpdateContent reports whether a content push is allowed now and, if so,
// records the push. Rejections leave the state untouched.
func (l *Limiter) ShouldUpdateContent(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	last, ok := l.last[userID]
	if ok && now.Sub(last) < l.minInterval {
		return false
	}
	l.last[userID] = now
	return true
}

// CleanupUser forgets the user's last push.
func (l *Limiter) CleanupUser(userID int64) {
	l.mu.Lock()
	delete(l.last, userID)
	l.mu.Unlock()
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}
