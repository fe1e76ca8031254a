package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorLimiter enforces a per-identity request rate. Limiters for idle
// identities are pruned so the map does not grow without bound.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newVisitorLimiter(perMinute, burst int) *visitorLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &visitorLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *visitorLimiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[identity]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[identity] = v
	}
	v.lastSeen = time.Now()

	if len(l.visitors) > 1024 {
		l.pruneLocked()
	}
	return v.limiter.Allow()
}

func (l *visitorLimiter) pruneLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for id, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, id)
		}
	}
}

// rateLimitMiddleware rejects callers exceeding the per-identity budget.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(identityFrom(r.Context())) {
			s.countRejected("rate_limited")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
