package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorIdleTimeout = 3 * time.Minute
	visitorSweepEvery  = time.Minute
)

// RateLimitConfig budgets reads and mutations separately per client IP.
// Mutations hit the persistence collaborator and the upload endpoint, so
// they get the smaller bucket.
type RateLimitConfig struct {
	ReadRPS    float64
	ReadBurst  int
	WriteRPS   float64
	WriteBurst int
	// ExemptPaths defaults to the health check.
	ExemptPaths []string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// reserve takes a token for ip. When none is left it reports how long the
// client should wait.
func (p *limiterPool) reserve(ip string, now time.Time) (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.visitors[ip] = v
	}
	v.lastSeen = now

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (p *limiterPool) sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, v := range p.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTimeout {
			delete(p.visitors, ip)
		}
	}
}

func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.ReadRPS <= 0 {
		cfg.ReadRPS = 20
	}
	if cfg.ReadBurst <= 0 {
		cfg.ReadBurst = 40
	}
	if cfg.WriteRPS <= 0 {
		cfg.WriteRPS = 5
	}
	if cfg.WriteBurst <= 0 {
		cfg.WriteBurst = 10
	}
	exempt := normalizeStringList(cfg.ExemptPaths)
	if len(exempt) == 0 {
		exempt = []string{"/healthz"}
	}

	reads := newLimiterPool(cfg.ReadRPS, cfg.ReadBurst)
	writes := newLimiterPool(cfg.WriteRPS, cfg.WriteBurst)

	go func() {
		ticker := time.NewTicker(visitorSweepEvery)
		defer ticker.Stop()
		for now := range ticker.C {
			reads.sweep(now)
			writes.sweep(now)
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if containsFold(exempt, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			pool := reads
			if isMutation(r.Method) {
				pool = writes
			}
			allowed, wait := pool.reserve(extractIP(r.RemoteAddr), time.Now())
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
