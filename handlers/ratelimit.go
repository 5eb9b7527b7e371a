package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"portal-voting-backend/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Per-client-IP token buckets. Entries idle past the expiry are dropped by a
// background sweep so the map does not grow with every visitor ever seen.
type ipRateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	r        rate.Limit
	burst    int
	lifetime time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(r rate.Limit, burst int) *ipRateLimiter {
	l := &ipRateLimiter{
		clients:  make(map[string]*clientLimiter),
		r:        r,
		burst:    burst,
		lifetime: 10 * time.Minute,
	}
	go l.cleanupLoop()
	return l
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.r, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		for ip, entry := range l.clients {
			if time.Since(entry.lastSeen) > l.lifetime {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}

var apiLimiter *ipRateLimiter

// RateLimitMiddleware limits each client IP to RATE_LIMIT_PER_SECOND requests
// per second (default 10, burst 2x). Disabled entirely when
// ENABLE_RATE_LIMIT is false.
func RateLimitMiddleware() gin.HandlerFunc {
	if !config.GetEnvBool("ENABLE_RATE_LIMIT", true) {
		return func(c *gin.Context) { c.Next() }
	}

	perSecond := 10
	if v := config.GetEnv("RATE_LIMIT_PER_SECOND", ""); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			perSecond = parsed
		}
	}
	apiLimiter = newIPRateLimiter(rate.Limit(perSecond), perSecond*2)

	return func(c *gin.Context) {
		if !apiLimiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
