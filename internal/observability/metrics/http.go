package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type routeKey struct {
	handler string
	method  string
}

type requestKey struct {
	routeKey
	code string
}

var defaultBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]uint64, len(defaultBuckets))}
}

func (h *histogram) observe(seconds float64) {
	h.count++
	h.sum += seconds
	for idx, bound := range defaultBuckets {
		if seconds <= bound {
			h.counts[idx]++
		}
	}
}

type httpCollector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	failures map[routeKey]uint64
	latency  map[routeKey]*histogram
}

var httpMetrics = &httpCollector{
	requests: make(map[requestKey]uint64),
	failures: make(map[routeKey]uint64),
	latency:  make(map[routeKey]*histogram),
}

// ObserveHTTPRequest records one finished API request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	route := routeKey{handler: handler, method: method}
	c := httpMetrics
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{routeKey: route, code: strconv.Itoa(status)}]++
	if status >= 500 {
		c.failures[route]++
	}
	hist := c.latency[route]
	if hist == nil {
		hist = newHistogram()
		c.latency[route] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *httpCollector) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKeys := make([]requestKey, 0, len(c.requests))
	for k := range c.requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].routeKey != reqKeys[j].routeKey {
			return lessRoute(reqKeys[i].routeKey, reqKeys[j].routeKey)
		}
		return reqKeys[i].code < reqKeys[j].code
	})

	writeHeader(b, "eagent_http_requests_total", "counter", "Total number of API requests processed.")
	for _, k := range reqKeys {
		fmt.Fprintf(b, "eagent_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), k.code, c.requests[k])
	}

	writeHeader(b, "eagent_http_request_errors_total", "counter", "API requests that ended with a server error.")
	for _, k := range sortedRoutes(c.failures) {
		fmt.Fprintf(b, "eagent_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), c.failures[k])
	}

	writeHeader(b, "eagent_http_request_duration_seconds", "histogram", "API request latency in seconds.")
	routes := make([]routeKey, 0, len(c.latency))
	for k := range c.latency {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool { return lessRoute(routes[i], routes[j]) })
	for _, k := range routes {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
		writeHistogram(b, "eagent_http_request_duration_seconds", labels, c.latency[k])
	}
}

func sortedRoutes(m map[routeKey]uint64) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessRoute(keys[i], keys[j]) })
	return keys
}

func lessRoute(a, b routeKey) bool {
	if a.handler != b.handler {
		return a.handler < b.handler
	}
	return a.method < b.method
}

func writeHeader(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for idx, bound := range defaultBuckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

// Render returns every collected series in Prometheus text format.
func Render() string {
	var b strings.Builder
	b.Grow(2048)
	httpMetrics.write(&b)
	stepMetrics.write(&b)
	eventMetrics.write(&b)
	return b.String()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, Render())
	})
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer serves /metrics on a dedicated address until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
