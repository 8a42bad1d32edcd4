package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestProvider_CounterExposition(t *testing.T) {
	p := NewProvider("test")
	p.Inc("pipeline_runs_total", map[string]string{"outcome": "matched"})
	p.Inc("pipeline_runs_total", map[string]string{"outcome": "matched"})
	p.Inc("pipeline_runs_total", map[string]string{"outcome": "unmatched"})

	body := scrape(t, p)
	if !strings.Contains(body, `pipeline_runs_total{outcome="matched"} 2`) {
		t.Errorf("missing matched counter in:\n%s", body)
	}
	if !strings.Contains(body, `pipeline_runs_total{outcome="unmatched"} 1`) {
		t.Errorf("missing unmatched counter in:\n%s", body)
	}
}

func TestProvider_HistogramExposition(t *testing.T) {
	p := NewProvider("test")
	p.Observe("http_request_duration_seconds", map[string]string{"route": "/mapping"}, 0.02)
	p.Observe("http_request_duration_seconds", map[string]string{"route": "/mapping"}, 0.2)

	body := scrape(t, p)
	if !strings.Contains(body, `http_request_duration_seconds_count{route="/mapping"} 2`) {
		t.Errorf("missing histogram count in:\n%s", body)
	}
	if !strings.Contains(body, `le="+Inf"`) {
		t.Errorf("missing +Inf bucket in:\n%s", body)
	}
	// 0.02 lands in the le=0.025 bucket; cumulative count there is 1.
	if !strings.Contains(body, `http_request_duration_seconds_bucket{route="/mapping",le="0.025"} 1`) {
		t.Errorf("missing cumulative bucket in:\n%s", body)
	}
}

func TestProvider_Middleware(t *testing.T) {
	p := NewProvider("test")
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/mapping", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/mapping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	body := scrape(t, p)
	if !strings.Contains(body, `http_requests_total{method="GET",route="/mapping",status="200"} 1`) {
		t.Errorf("missing request counter in:\n%s", body)
	}
}

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := p.Handler()(c); err != nil {
		t.Fatal(err)
	}
	return rec.Body.String()
}
