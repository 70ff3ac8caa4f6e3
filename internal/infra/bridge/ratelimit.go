package bridge

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket that refills continuously: a client may
// burst up to rate requests, then gets one more every window/rate.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*allowance
	rate    float64
	window  time.Duration
	now     func() time.Time
}

type allowance struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows rate requests per window and client. A non-positive rate
// disables limiting.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*allowance),
		rate:    float64(rate),
		window:  window,
		now:     time.Now,
	}
}

// Allow takes a token for client. When none is left it reports how long until the
// next one.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	if rl.rate <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.forgetIdle(now)

	a, ok := rl.clients[client]
	if !ok {
		a = &allowance{tokens: rl.rate, seen: now}
		rl.clients[client] = a
	}

	perToken := rl.window / time.Duration(rl.rate)
	a.tokens = math.Min(rl.rate, a.tokens+float64(now.Sub(a.seen))/float64(perToken))
	a.seen = now

	if a.tokens < 1 {
		return false, time.Duration((1 - a.tokens) * float64(perToken))
	}
	a.tokens--
	return true, 0
}

// A client idle for a full window is back at a full bucket; its entry carries no state.
func (rl *RateLimiter) forgetIdle(now time.Time) {
	for client, a := range rl.clients {
		if now.Sub(a.seen) >= rl.window {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(clientAddr(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr identifies the caller, trusting the first X-Forwarded-For hop when the
// bridge sits behind the app's webview proxy.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
