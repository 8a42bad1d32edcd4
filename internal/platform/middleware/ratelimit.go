package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ClassConfig configures one rate-limit route class as a fixed window.
type ClassConfig struct {
	Window      time.Duration
	MaxRequests int
	Message     string
}

// DefaultClasses returns the per-route-class limits the server ships with.
func DefaultClasses() map[string]ClassConfig {
	return map[string]ClassConfig{
		"standard": {Window: time.Minute, MaxRequests: 100, Message: "Too many requests, please slow down"},
		"mapping":  {Window: time.Minute, MaxRequests: 20, Message: "Mapping requests are limited; use the batch endpoint for bulk work"},
		"batch":    {Window: time.Minute, MaxRequests: 5, Message: "Batch submissions are limited to a few per minute"},
		"search":   {Window: time.Minute, MaxRequests: 200, Message: "Search requests are limited, please slow down"},
		"health":   {Window: time.Minute, MaxRequests: 1000, Message: "Health checks are limited"},
	}
}

type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// Limiter is a fixed-window counter per caller key. Single-process and
// best-effort; not a security boundary.
type Limiter struct {
	name string
	cfg  ClassConfig

	mu      sync.Mutex
	buckets map[string]*window

	now func() time.Time
}

func NewLimiter(name string, cfg ClassConfig) *Limiter {
	return &Limiter{
		name:    name,
		cfg:     cfg,
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one request for key. It returns whether the request may
// proceed, the remaining quota, and the time until the window resets.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, reset time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) > l.cfg.Window {
		b = &window{start: now}
		l.buckets[key] = b
	}
	b.lastSeen = now
	b.count++

	reset = l.cfg.Window - now.Sub(b.start)
	remaining = l.cfg.MaxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}
	return b.count <= l.cfg.MaxRequests, remaining, reset
}

// ActiveBuckets returns the number of live caller buckets.
func (l *Limiter) ActiveBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep discards buckets idle for longer than maxIdle.
func (l *Limiter) sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(l.buckets, k)
		}
	}
}

// StartSweep runs the idle-bucket sweep until ctx is cancelled.
func (l *Limiter) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep(time.Minute)
			}
		}
	}()
}

// Registry holds the limiter for every route class so admin endpoints can
// report on them.
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds one limiter per class config.
func NewRegistry(classes map[string]ClassConfig) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(classes))}
	for name, cfg := range classes {
		r.limiters[name] = NewLimiter(name, cfg)
	}
	return r
}

// Limiter returns the limiter for a class, or nil.
func (r *Registry) Limiter(class string) *Limiter {
	return r.limiters[class]
}

// StartSweeps starts the idle sweep on every limiter.
func (r *Registry) StartSweeps(ctx context.Context, interval time.Duration) {
	for _, l := range r.limiters {
		l.StartSweep(ctx, interval)
	}
}

// Stats reports active bucket counts and limits per class.
func (r *Registry) Stats() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = map[string]interface{}{
			"active_buckets": l.ActiveBuckets(),
			"window_ms":      l.cfg.Window.Milliseconds(),
			"max_requests":   l.cfg.MaxRequests,
		}
	}
	return out
}

// RateLimit returns middleware enforcing the given limiter, keyed by
// CallerKey. Limit headers are set on every response; 429 carries
// Retry-After and the class message.
func RateLimit(l *Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, remaining, reset := l.Allow(CallerKey(c))

			resetSecs := int(reset.Seconds() + 0.999)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.MaxRequests))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.Itoa(resetSecs))

			if !allowed {
				h.Set("Retry-After", strconv.Itoa(resetSecs))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate_limited",
					"message":     l.cfg.Message,
					"retry_after": resetSecs,
				})
			}
			return next(c)
		}
	}
}
