package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedIPs bounds the per-client state kept at once.
	maxTrackedIPs = 10000
	// idleTTL forgets clients that stopped sending requests.
	idleTTL = 10 * time.Minute
)

// IPLimiter applies a token bucket per client IP.
type IPLimiter struct {
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]

	limit rate.Limit
	burst int
}

// NewIPLimiter allows perMinute requests per client IP on average, with
// bursts of up to burst requests.
func NewIPLimiter(perMinute, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedIPs, nil, idleTTL),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
	}
}

// Middleware rejects requests of clients over their limit with 429.
func (l *IPLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}
			return next(c)
		}
	}
}

// Allow reports whether ip may send another request now.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.clients.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding keeps active clients from expiring.
	l.clients.Add(ip, limiter)
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked clients.
func (l *IPLimiter) Len() int {
	return l.clients.Len()
}
