// Package telemetry records client-side metrics for backend calls and the
// local proxy, and exposes them in Prometheus text format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Metric names.
const (
	metricBackendDuration  = "backend_request_duration_seconds"
	metricProxyDuration    = "proxy_request_duration_seconds"
	metricRefreshTotal     = "session_refresh_total"
	metricRetryTotal       = "backend_retry_total"
	metricTransportErrors  = "backend_transport_errors_total"
	metricProxyActive      = "proxy_active_requests"
	labelSep               = "|"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with fixed bucket boundaries.
// Bucket counts are stored non-cumulative and summed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider holds every metric. The zero value is not usable; call New.
type Provider struct {
	mu         sync.RWMutex
	histograms map[string]*histogram // name|label values
	counters   map[string]*int64     // name|label values
	active     int64
}

func New() *Provider {
	return &Provider{
		histograms: make(map[string]*histogram),
		counters:   make(map[string]*int64),
	}
}

func key(name string, labels ...string) string {
	return name + labelSep + strings.Join(labels, labelSep)
}

func (p *Provider) histogram(k string) *histogram {
	p.mu.RLock()
	h, ok := p.histograms[k]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.histograms[k]; !ok {
		h = newHistogram(defaultDurationBuckets)
		p.histograms[k] = h
	}
	return h
}

func (p *Provider) inc(k string) {
	p.mu.RLock()
	c, ok := p.counters[k]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if c, ok = p.counters[k]; !ok {
			c = new(int64)
			p.counters[k] = c
		}
		p.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Counter returns the value of a counter by name and label values.
func (p *Provider) Counter(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.counters[key(name, labels...)]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

// Observations returns how many values a histogram has recorded.
func (p *Provider) Observations(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.histograms[key(name, labels...)]; ok {
		return h.Count()
	}
	return 0
}

// StatusClass buckets a status code as "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// ObserveRequest records a backend call.
func (p *Provider) ObserveRequest(method string, status int, d time.Duration) {
	p.histogram(key(metricBackendDuration, method, StatusClass(status))).Observe(d.Seconds())
}

// IncRefresh counts refresh attempts by outcome.
func (p *Provider) IncRefresh(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	p.inc(key(metricRefreshTotal, outcome))
}

func (p *Provider) IncRetry() {
	p.inc(key(metricRetryTotal))
}

func (p *Provider) IncTransportError() {
	p.inc(key(metricTransportErrors))
}

// ActiveRequests returns the number of proxy requests in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

// ---------------------------------------------------------------------------
// Proxy middleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records duration and in-flight count of proxy requests.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.histogram(key(metricProxyDuration, c.Request().Method, route, StatusClass(status))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

var histogramLabels = map[string][]string{
	metricBackendDuration: {"method", "status_class"},
	metricProxyDuration:   {"method", "route", "status_class"},
}

var counterLabels = map[string][]string{
	metricRefreshTotal:    {"outcome"},
	metricRetryTotal:      nil,
	metricTransportErrors: nil,
}

var help = map[string]string{
	metricBackendDuration: "Duration of backend API calls in seconds.",
	metricProxyDuration:   "Duration of local proxy requests in seconds.",
	metricRefreshTotal:    "Access token refresh attempts by outcome.",
	metricRetryTotal:      "Backend calls retried after a refresh.",
	metricTransportErrors: "Backend calls that failed before a response.",
	metricProxyActive:     "Local proxy requests in flight.",
}

// PrometheusHandler serves every metric in Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Render())
	}
}

// Render returns the Prometheus text exposition.
func (p *Provider) Render() string {
	p.mu.RLock()
	hists := make(map[string]*histogram, len(p.histograms))
	for k, h := range p.histograms {
		hists[k] = h
	}
	counters := make(map[string]int64, len(p.counters))
	for k, c := range p.counters {
		counters[k] = atomic.LoadInt64(c)
	}
	p.mu.RUnlock()

	var b strings.Builder

	for _, name := range sortedNames(histogramLabels) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help[name])
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, k := range sortedKeys(hists) {
			metric, labels := split(k)
			if metric != name {
				continue
			}
			writeHistogram(&b, name, formatLabels(histogramLabels[name], labels), hists[k])
		}
		b.WriteByte('\n')
	}

	for _, name := range sortedNames(counterLabels) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help[name])
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		for _, k := range sortedKeys(counters) {
			metric, labels := split(k)
			if metric != name {
				continue
			}
			if l := formatLabels(counterLabels[name], labels); l != "" {
				fmt.Fprintf(&b, "%s{%s} %d\n", name, l, counters[k])
			} else {
				fmt.Fprintf(&b, "%s %d\n", name, counters[k])
			}
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "# HELP %s %s\n", metricProxyActive, help[metricProxyActive])
	fmt.Fprintf(&b, "# TYPE %s gauge\n", metricProxyActive)
	fmt.Fprintf(&b, "%s %d\n", metricProxyActive, p.ActiveRequests())

	return b.String()
}

func split(k string) (string, []string) {
	parts := strings.Split(k, labelSep)
	if len(parts) == 2 && parts[1] == "" {
		return parts[0], nil
	}
	return parts[0], parts[1:]
}

func formatLabels(names, values []string) string {
	pairs := make([]string, 0, len(names))
	for i, n := range names {
		if i >= len(values) {
			break
		}
		pairs = append(pairs, fmt.Sprintf("%s=%q", n, values[i]))
	}
	return strings.Join(pairs, ",")
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	prefix := ""
	suffix := ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.Count())
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, h.Count())
}

func sortedNames(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
