package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// WindowStore counts hits per key in fixed windows. Incr returns the count
// including this hit and the time left in the window.
type WindowStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type RateLimiter struct {
	store  WindowStore
	limit  int64
	window time.Duration
	prefix string
	log    *slog.Logger
}

func NewRateLimiter(store WindowStore, prefix string, limit int, window time.Duration, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		store:  store,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
		log:    log,
	}
}

// Middleware enforces the limit for the key derived by keyFn. Store errors
// let the request through.
func (rl *RateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		n, resetIn, err := rl.store.Incr(c.Request.Context(), rl.prefix+":"+key, rl.window)
		if err != nil {
			rl.log.WarnContext(c.Request.Context(), "rate limiter store failed", "err", err)
			c.Next()
			return
		}

		if n > rl.limit {
			retryAfter := int(resetIn.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}
	return ip
}

// MemoryWindowStore keeps counters in process. Expired windows are swept
// lazily on access.
type MemoryWindowStore struct {
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count     int64
	windowEnd time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (s *MemoryWindowStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.clients[key]
	if !ok || !now.Before(b.windowEnd) {
		if len(s.clients) > 10_000 {
			s.sweep(now)
		}
		b = &bucket{windowEnd: now.Add(window)}
		s.clients[key] = b
	}
	b.count++

	return b.count, b.windowEnd.Sub(now), nil
}

func (s *MemoryWindowStore) sweep(now time.Time) {
	for k, b := range s.clients {
		if !now.Before(b.windowEnd) {
			delete(s.clients, k)
		}
	}
}
