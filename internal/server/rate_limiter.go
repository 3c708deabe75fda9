package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously at capacity per interval.
type rateLimiter struct {
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newRateLimiter(capacity int, interval time.Duration, now time.Time) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now,
	}
}

func (rl *rateLimiter) allow(now time.Time) bool {
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.capacity)
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

func (rl *rateLimiter) full(now time.Time) bool {
	return rl.tokens+now.Sub(rl.lastCheck).Seconds()*rl.rate >= rl.capacity
}

// handshakeLimiter keeps one bucket per client IP for WebSocket upgrades.
type handshakeLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rateLimiter
	burst    int
	interval time.Duration
	now      func() time.Time
	lastGC   time.Time
}

func newHandshakeLimiter(burst int, interval time.Duration, now func() time.Time) *handshakeLimiter {
	if now == nil {
		now = time.Now
	}
	return &handshakeLimiter{
		buckets:  make(map[string]*rateLimiter),
		burst:    burst,
		interval: interval,
		now:      now,
		lastGC:   now(),
	}
}

func (l *handshakeLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.collect(now)

	b := l.buckets[ip]
	if b == nil {
		b = newRateLimiter(l.burst, l.interval, now)
		l.buckets[ip] = b
	}
	return b.allow(now)
}

// collect forgets buckets that refilled completely, at most once per interval.
func (l *handshakeLimiter) collect(now time.Time) {
	if now.Sub(l.lastGC) < l.interval {
		return
	}
	l.lastGC = now
	for ip, b := range l.buckets {
		if b.full(now) {
			delete(l.buckets, ip)
		}
	}
}

// Middleware rejects a client IP that exceeded its handshake budget with 429.
func (l *handshakeLimiter) Middleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			log.Warn("Handshake rate limit exceeded", "addr", ip, "burst", l.burst, "interval", l.interval)
			http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
