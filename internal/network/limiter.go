package network

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// ipLimiter throttles new connections per remote IP. Idle entries expire
// and the table is bounded, so a scan from many addresses cannot grow it.
type ipLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	cache *expirable.LRU[string, *rate.Limiter]
}

func newIPLimiter(perSecond float64, burst, size int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	if size < 1 {
		size = 1024
	}
	return &ipLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		cache: expirable.NewLRU[string, *rate.Limiter](size, nil, limiterIdleTTL),
	}
}

// Allow reports whether ip may open another connection now.
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.cache.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(ip, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Len returns the number of tracked addresses.
func (l *ipLimiter) Len() int {
	return l.cache.Len()
}
