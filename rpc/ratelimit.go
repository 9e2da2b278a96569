package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimitPerMinute = 600
	defaultRateLimitBurst     = 30
	visitorIdleTimeout        = 5 * time.Minute
)

// clientLimiter applies a per-client token bucket to the RPC endpoint. Clients
// are keyed by IP, honoring proxy forwarding headers so a gateway in front of
// the node does not collapse everyone into one bucket.
type clientLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
	nowFn    func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perMinute float64, burst int) *clientLimiter {
	if perMinute <= 0 {
		perMinute = defaultRateLimitPerMinute
	}
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	return &clientLimiter{
		perSecond: rate.Limit(perMinute / 60.0),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		nowFn:     time.Now,
	}
}

// allow reports whether the client identified by the request may proceed.
func (c *clientLimiter) allow(r *http.Request) bool {
	id := clientID(r)
	now := c.nowFn()

	c.mu.Lock()
	v, ok := c.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(c.perSecond, c.burst)}
		c.visitors[id] = v
	}
	v.lastSeen = now
	c.pruneLocked(now)
	c.mu.Unlock()

	return v.limiter.Allow()
}

// pruneLocked drops buckets idle past the timeout. Called with the lock held.
func (c *clientLimiter) pruneLocked(now time.Time) {
	for id, v := range c.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTimeout {
			delete(c.visitors, id)
		}
	}
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.allow(r) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma >= 0 {
			first = forwarded[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
