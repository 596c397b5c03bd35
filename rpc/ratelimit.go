package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a token-bucket limit per client identifier. Entries
// idle past the TTL are evicted lazily on the next lookup sweep.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	clockNow func() time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if perSecond <= 0 {
		perSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (c *clientLimiter) allow(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clockNow()
	v, ok := c.visitors[id]
	if !ok {
		c.evictStale(now)
		v = &visitor{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func (c *clientLimiter) evictStale(now time.Time) {
	for id, v := range c.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(c.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
