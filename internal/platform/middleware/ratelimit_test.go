package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func doRequest(t *testing.T, handler echo.HandlerFunc, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestRateLimit_WithinLimit(t *testing.T) {
	l := NewLimiter("test", ClassConfig{Window: time.Minute, MaxRequests: 3, Message: "slow down"})
	handler := RateLimit(l)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 3; i++ {
		rec := doRequest(t, handler, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 3", i+1, got)
		}
		wantRemaining := strconv.Itoa(3 - i - 1)
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %s", i+1, got, wantRemaining)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	l := NewLimiter("test", ClassConfig{Window: time.Minute, MaxRequests: 2, Message: "slow down"})
	handler := RateLimit(l)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	doRequest(t, handler, nil)
	doRequest(t, handler, nil)
	rec := doRequest(t, handler, nil)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header to be set")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal 429 body: %v", err)
	}
	if body["error"] != "rate_limited" {
		t.Errorf("error label = %v, want rate_limited", body["error"])
	}
	if _, ok := body["retry_after"].(float64); !ok {
		t.Error("expected numeric retry_after in body")
	}
}

func TestRateLimit_WindowReset(t *testing.T) {
	l := NewLimiter("test", ClassConfig{Window: time.Minute, MaxRequests: 1})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if ok, _, _ := l.Allow("k"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _, _ := l.Allow("k"); ok {
		t.Fatal("second request in same window should be rejected")
	}

	now = now.Add(61 * time.Second)
	if ok, _, _ := l.Allow("k"); !ok {
		t.Fatal("request after window reset should pass")
	}
}

func TestRateLimit_SeparateCallers(t *testing.T) {
	l := NewLimiter("test", ClassConfig{Window: time.Minute, MaxRequests: 1})
	handler := RateLimit(l)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	a1 := doRequest(t, handler, map[string]string{"X-Forwarded-For": "10.0.0.1"})
	b1 := doRequest(t, handler, map[string]string{"X-Forwarded-For": "10.0.0.2"})
	a2 := doRequest(t, handler, map[string]string{"X-Forwarded-For": "10.0.0.1"})

	if a1.Code != http.StatusOK || b1.Code != http.StatusOK {
		t.Fatalf("distinct callers should each get their own window: %d, %d", a1.Code, b1.Code)
	}
	if a2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same caller should be limited, got %d", a2.Code)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter("test", ClassConfig{Window: time.Minute, MaxRequests: 10})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if got := l.ActiveBuckets(); got != 2 {
		t.Fatalf("active buckets = %d, want 2", got)
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	l.sweep(time.Minute)

	if got := l.ActiveBuckets(); got != 1 {
		t.Errorf("active buckets after sweep = %d, want 1", got)
	}
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry(DefaultClasses())
	if r.Limiter("mapping") == nil {
		t.Fatal("expected mapping limiter")
	}
	stats := r.Stats()
	if stats["mapping"]["max_requests"] != 20 {
		t.Errorf("mapping max_requests = %v, want 20", stats["mapping"]["max_requests"])
	}
	if stats["batch"]["max_requests"] != 5 {
		t.Errorf("batch max_requests = %v, want 5", stats["batch"]["max_requests"])
	}
}
