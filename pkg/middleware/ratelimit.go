package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	ips map[string]*visitor
	mu  sync.Mutex
	r   rate.Limit
	b   int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	l := &ipRateLimiter{
		ips: make(map[string]*visitor),
		r:   r,
		b:   b,
	}

	go l.cleanupVisitors()

	return l
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.ips[ip]
	if !exists {
		limiter := rate.NewLimiter(l.r, l.b)
		l.ips[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// drops IPs idle for 3 minutes so the map stays bounded
func (l *ipRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for ip, v := range l.ips {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.ips, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit throttles per client IP: 10 req/s with a burst of 20.
func RateLimit() gin.HandlerFunc {
	limiter := newIPRateLimiter(10, 20)

	return func(c *gin.Context) {
		if !limiter.limiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "TOO_MANY_REQUESTS",
					"message": "request rate exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
