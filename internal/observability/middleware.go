package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tillsync/server/observability"

// untracedPrefixes are polled by load balancers or browsers and would drown
// the sync traffic in traces
var untracedPrefixes = []string{"/health", "/swagger/", "/api/sync/ping"}

// HTTPMetrics holds request instruments labelled by route group
type HTTPMetrics struct {
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the request instruments on the global meter
func NewHTTPMetrics() (*HTTPMetrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &HTTPMetrics{}
	var err error

	if m.requests, err = meter.Int64Counter("tillsync.http.requests",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{requests}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("tillsync.http.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.responseSize, err = meter.Int64Histogram("tillsync.http.response.size",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter("tillsync.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{requests}")); err != nil {
		return nil, err
	}
	return m, nil
}

// statusRecorder captures the status code and body size
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades through the wrapper
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// TracingMiddleware opens a server span per request. tokenHeader is only
// checked for presence so rejected calls can be told apart in traces; its
// value is never recorded.
func TracingMiddleware(tokenHeader string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untraced(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("net.peer.ip", r.RemoteAddr),
					attribute.Bool("tillsync.token_present", r.Header.Get(tokenHeader) != ""),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.String("tillsync.route_group", routeGroup(route)),
				attribute.Int("http.status_code", rw.status),
				attribute.Int64("http.response_content_length", rw.size),
			)
			if rw.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// MetricsMiddleware records request counts, latency and sizes
func MetricsMiddleware(m *HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			inflight := metric.WithAttributes(attribute.String("http.method", r.Method))
			m.activeRequests.Add(ctx, 1, inflight)
			defer m.activeRequests.Add(ctx, -1, inflight)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routePattern(r)
			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("tillsync.route_group", routeGroup(route)),
				attribute.Int("http.status_code", rw.status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
			m.responseSize.Record(ctx, rw.size, attrs)
		})
	}
}

func untraced(path string) bool {
	for _, prefix := range untracedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// routePattern returns the matched chi pattern so path parameters do not
// explode metric cardinality
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// routeGroup buckets a route pattern into the protocol area it belongs to
func routeGroup(pattern string) string {
	p := strings.TrimPrefix(pattern, "/api/sync")
	switch {
	case strings.HasPrefix(p, "/auth"), strings.HasPrefix(p, "/terminals"):
		return "auth"
	case strings.HasPrefix(p, "/collections"), strings.HasPrefix(p, "/delta"),
		strings.HasPrefix(p, "/status"), strings.HasPrefix(p, "/config"):
		return "collections"
	case strings.HasPrefix(p, "/inventory"):
		return "inventory"
	case strings.HasPrefix(p, "/reset"):
		return "reset"
	case strings.HasPrefix(p, "/ws"):
		return "websocket"
	case p == pattern:
		return "other"
	default:
		return "operations"
	}
}
