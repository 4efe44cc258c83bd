package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 2, 7, 20} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("expected count 4, got %d", h.Count())
	}
	if h.Sum() != 29.5 {
		t.Errorf("expected sum 29.5, got %g", h.Sum())
	}
	cum := h.cumulativeBuckets()
	want := []int64{1, 2, 3}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], cum[i])
		}
	}
}

func TestProvider_Recorder(t *testing.T) {
	p := New()
	p.ObserveRequest(http.MethodGet, 200, 10*time.Millisecond)
	p.ObserveRequest(http.MethodGet, 204, 20*time.Millisecond)
	p.ObserveRequest(http.MethodGet, 403, 5*time.Millisecond)
	p.IncRefresh(true)
	p.IncRefresh(false)
	p.IncRefresh(false)
	p.IncRetry()
	p.IncTransportError()

	if n := p.Observations(metricBackendDuration, "GET", "2xx"); n != 2 {
		t.Errorf("expected 2 observations for 2xx, got %d", n)
	}
	if n := p.Observations(metricBackendDuration, "GET", "4xx"); n != 1 {
		t.Errorf("expected 1 observation for 4xx, got %d", n)
	}
	if n := p.Counter(metricRefreshTotal, "failure"); n != 2 {
		t.Errorf("expected 2 failed refreshes, got %d", n)
	}
	if n := p.Counter(metricRetryTotal); n != 1 {
		t.Errorf("expected 1 retry, got %d", n)
	}
	if n := p.Counter(metricTransportErrors); n != 1 {
		t.Errorf("expected 1 transport error, got %d", n)
	}
}

func TestProvider_ConcurrentIncrements(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.IncRetry()
			p.ObserveRequest(http.MethodPost, 201, time.Millisecond)
		}()
	}
	wg.Wait()

	if n := p.Counter(metricRetryTotal); n != 50 {
		t.Errorf("expected 50, got %d", n)
	}
	if n := p.Observations(metricBackendDuration, "POST", "2xx"); n != 50 {
		t.Errorf("expected 50, got %d", n)
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 302: "3xx", 403: "4xx", 503: "5xx", 0: "unknown"}
	for in, want := range cases {
		if got := StatusClass(in); got != want {
			t.Errorf("StatusClass(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	p := New()
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/patient/*", func(c echo.Context) error {
		if p.ActiveRequests() != 1 {
			t.Errorf("expected 1 active request, got %d", p.ActiveRequests())
		}
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/patient/myReports", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if p.ActiveRequests() != 0 {
		t.Errorf("expected 0 active requests, got %d", p.ActiveRequests())
	}
	if n := p.Observations(metricProxyDuration, "GET", "/patient/*", "2xx"); n != 1 {
		t.Errorf("expected 1 proxy observation, got %d", n)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := New()
	p.ObserveRequest(http.MethodGet, 200, 30*time.Millisecond)
	p.IncRefresh(true)
	p.IncRetry()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE backend_request_duration_seconds histogram",
		`backend_request_duration_seconds_bucket{method="GET",status_class="2xx",le="0.05"} 1`,
		`backend_request_duration_seconds_bucket{method="GET",status_class="2xx",le="+Inf"} 1`,
		`backend_request_duration_seconds_count{method="GET",status_class="2xx"} 1`,
		`session_refresh_total{outcome="success"} 1`,
		"backend_retry_total 1",
		"# TYPE proxy_active_requests gauge",
		"proxy_active_requests 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected output to contain %q\n%s", want, body)
		}
	}
}
