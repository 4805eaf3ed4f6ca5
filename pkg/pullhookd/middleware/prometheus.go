// This code was originally written by Rene Zbinden and modified by Vladimir Konovalov.
// Copied from https://github.com/766b/chi-prometheus and further adapted.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Unmatched is the path label of requests that no route served.
	Unmatched = "unmatched"
	// OtherMethod is the method label of requests with a non-standard method.
	OtherMethod = "OTHER"
)

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30}

const (
	reqsName    = "requests_total"
	latencyName = "request_duration_seconds"
)

// Middleware is a handler that exposes prometheus metrics for the number of requests
// and the latency, partitioned by status code, method and route pattern.
type Middleware struct {
	reqs    *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// PrometheusMiddleware returns a new prometheus Middleware handler, registered with registerer.
func PrometheusMiddleware(registerer prometheus.Registerer, name string, buckets ...float64) *Middleware {
	var m Middleware
	m.reqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        reqsName,
			Help:        "How many HTTP requests processed, partitioned by status code, method and HTTP path.",
			ConstLabels: prometheus.Labels{"service": name},
		},
		[]string{"code", "method", "path"},
	)

	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        latencyName,
		Help:        "How long it took to process the request, partitioned by status code, method and HTTP path.",
		ConstLabels: prometheus.Labels{"service": name},
		Buckets:     buckets,
	},
		[]string{"code", "method", "path"},
	)

	registerer.MustRegister(m.reqs)
	registerer.MustRegister(m.latency)

	return &m
}

// RoutePattern returns the chi route pattern that served r, or Unmatched when no route did.
// Only valid after the request has been routed.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return Unmatched
	}
	pattern := rctx.RoutePattern()
	if len(pattern) == 0 {
		return Unmatched
	}
	return pattern
}

// Method returns the request method, or OtherMethod for anything non-standard.
func Method(r *http.Request) string {
	if knownMethods[r.Method] {
		return r.Method
	}
	return OtherMethod
}

// Initialize pre-populates the request counter so that the series exist before the first request.
func (m *Middleware) Initialize(path, method string, code int) {
	m.reqs.WithLabelValues(strconv.Itoa(code), method, path)
}

func (m *Middleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			statusCode := strconv.Itoa(ww.Status())
			duration := time.Since(start)
			method := Method(r)
			path := RoutePattern(r)
			m.reqs.WithLabelValues(statusCode, method, path).Inc()
			m.latency.WithLabelValues(statusCode, method, path).Observe(duration.Seconds())
		}
		return http.HandlerFunc(fn)
	}
}
