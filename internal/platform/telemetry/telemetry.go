// Package telemetry provides request and pipeline metrics behind a
// Prometheus text exposition endpoint, using only standard library
// constructs — no collector SDK dependency.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// latencyBoundaries are the histogram bucket upper bounds in seconds.
var latencyBoundaries = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25}

type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          float64
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

// Provider owns all metric state for the process.
type Provider struct {
	serviceName string

	mu         sync.Mutex
	counters   map[string]int64      // name{labels} -> count
	histograms map[string]*histogram // name{labels} -> histogram
	startTime  time.Time
}

func NewProvider(serviceName string) *Provider {
	return &Provider{
		serviceName: serviceName,
		counters:    make(map[string]int64),
		histograms:  make(map[string]*histogram),
		startTime:   time.Now(),
	}
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Inc increments a labeled counter.
func (p *Provider) Inc(name string, labels map[string]string) {
	key := name + labelString(labels)
	p.mu.Lock()
	p.counters[key]++
	p.mu.Unlock()
}

// Observe records one value into a labeled histogram.
func (p *Provider) Observe(name string, labels map[string]string, value float64) {
	key := name + labelString(labels)
	p.mu.Lock()
	h, ok := p.histograms[key]
	if !ok {
		h = &histogram{
			boundaries:   latencyBoundaries,
			bucketCounts: make([]int64, len(latencyBoundaries)),
		}
		p.histograms[key] = h
	}
	h.observe(value)
	p.mu.Unlock()
}

// Middleware records request count and latency per method/route/status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			labels := map[string]string{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(c.Response().Status),
			}
			p.Inc("http_requests_total", labels)
			p.Observe("http_request_duration_seconds", labels, time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus text exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.mu.Lock()
		counterKeys := make([]string, 0, len(p.counters))
		for k := range p.counters {
			counterKeys = append(counterKeys, k)
		}
		sort.Strings(counterKeys)
		for _, k := range counterKeys {
			fmt.Fprintf(&b, "%s %d\n", k, p.counters[k])
		}

		histKeys := make([]string, 0, len(p.histograms))
		for k := range p.histograms {
			histKeys = append(histKeys, k)
		}
		sort.Strings(histKeys)
		for _, k := range histKeys {
			h := p.histograms[k]
			name, labels := splitKey(k)
			var cum int64
			for i, bound := range h.boundaries {
				cum += h.bucketCounts[i]
				fmt.Fprintf(&b, "%s_bucket%s %d\n", name, withLE(labels, fmt.Sprintf("%g", bound)), cum)
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", name, withLE(labels, "+Inf"), h.count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", name, labels, h.sum)
			fmt.Fprintf(&b, "%s_count%s %d\n", name, labels, h.count)
		}

		uptime := time.Since(p.startTime).Seconds()
		p.mu.Unlock()

		fmt.Fprintf(&b, "process_uptime_seconds{service=%q} %g\n", p.serviceName, uptime)

		return c.String(http.StatusOK, b.String())
	}
}

func splitKey(key string) (name, labels string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}

// withLE injects an le label into an existing label string.
func withLE(labels, le string) string {
	if labels == "" {
		return fmt.Sprintf(`{le=%q}`, le)
	}
	return strings.TrimSuffix(labels, "}") + fmt.Sprintf(`,le=%q}`, le)
}
