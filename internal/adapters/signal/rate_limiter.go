package signal

import (
	"sync"

	"github.com/dkeye/Intercom/internal/domain"
	"golang.org/x/time/rate"
)

// InviteRateLimiter caps how often one user may ring others, across all of
// their connections.
type InviteRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewInviteRateLimiter(perSecond float64, burst int) *InviteRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &InviteRateLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *InviteRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[uid]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[uid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}
