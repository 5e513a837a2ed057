package server

import (
	"container/list"
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	defaultMaxClients   = 10000
	clientIdleTimeout   = 10 * time.Minute
	sweepInterval       = 5 * time.Minute
	evictionLogInterval = 30 * time.Second
)

type client struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP. At most capacity
// buckets exist; a new client at capacity evicts the least recently seen.
type rateLimiter struct {
	limit    rate.Limit
	burst    int
	capacity int
	log      *log.Logger
	clock    func() time.Time

	mu      sync.Mutex
	clients map[string]*list.Element
	recency *list.List // front is the most recent

	evicted      int
	lastEvictLog time.Time
}

func newRateLimiter(rps float64, burst, capacity int, logger *log.Logger) *rateLimiter {
	if capacity <= 0 {
		capacity = defaultMaxClients
	}
	if logger == nil {
		logger = log.Default()
	}
	return &rateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		capacity: capacity,
		log:      logger,
		clock:    time.Now,
		clients:  make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// take spends a token for ip. When none is left it returns how long until
// one is.
func (rl *rateLimiter) take(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock()

	c := rl.lookup(ip, now)
	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// lookup returns ip's client, creating it and evicting as needed. rl.mu
// must be held.
func (rl *rateLimiter) lookup(ip string, now time.Time) *client {
	if e, ok := rl.clients[ip]; ok {
		rl.recency.MoveToFront(e)
		c := e.Value.(*client)
		c.lastSeen = now
		return c
	}
	if rl.recency.Len() >= rl.capacity {
		rl.evictOldest(now)
	}
	c := &client{ip: ip, limiter: rate.NewLimiter(rl.limit, rl.burst), lastSeen: now}
	rl.clients[ip] = rl.recency.PushFront(c)
	return c
}

func (rl *rateLimiter) evictOldest(now time.Time) {
	back := rl.recency.Back()
	if back == nil {
		return
	}
	rl.recency.Remove(back)
	delete(rl.clients, back.Value.(*client).ip)
	rl.evicted++
	if now.Sub(rl.lastEvictLog) >= evictionLogInterval {
		rl.log.Warn("tracking too many clients, evicted least recent", "evicted", rl.evicted, "capacity", rl.capacity)
		rl.lastEvictLog = now
		rl.evicted = 0
	}
}

// sweep drops clients idle for longer than clientIdleTimeout. The recency
// list is ordered by last use, so it stops at the first fresh client.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.clock().Add(-clientIdleTimeout)
	for e := rl.recency.Back(); e != nil; {
		c := e.Value.(*client)
		if c.lastSeen.After(cutoff) {
			return
		}
		prev := e.Prev()
		rl.recency.Remove(e)
		delete(rl.clients, c.ip)
		e = prev
	}
}

func (rl *rateLimiter) len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.recency.Len()
}

// run sweeps periodically until ctx is done, then closes done.
func (rl *rateLimiter) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.take(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware limits API requests per client IP with token buckets
// of rps and burst, tracking at most maxClients clients. Idle clients are
// swept until ctx is cancelled; the returned channel closes after that.
func RateLimitMiddleware(ctx context.Context, rps float64, burst, maxClients int, logger *log.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	rl := newRateLimiter(rps, burst, maxClients, logger)
	done := make(chan struct{})
	go rl.run(ctx, done)
	return rl.middleware, done
}

// clientIP is the peer address, or the first forwarded address when the
// peer is a loopback or private proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}
	if peer.IsLoopback() || peer.IsPrivate() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	return peer.String()
}
