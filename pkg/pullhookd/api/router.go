package api

import (
	"net/http"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nais/pullhookd/pkg/pullhookd/middleware"
	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
)

const (
	DefaultHookPath    = "/hook"
	DefaultMaxBodySize = 128 * 1024
)

type Config struct {
	Dispatcher  Dispatcher
	HookPath    string
	MaxBodySize int64
	MetricsPath string

	// Registerer and Gatherer default to the global prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func New(cfg Config) chi.Router {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if len(cfg.HookPath) == 0 {
		cfg.HookPath = DefaultHookPath
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	prometheusMiddleware := middleware.PrometheusMiddleware(cfg.Registerer, "pullhookd")

	hookHandler := &HookHandler{
		Dispatcher:  cfg.Dispatcher,
		MaxBodySize: cfg.MaxBodySize,
	}

	// Pre-populate request metrics
	for _, code := range StatusCodes {
		prometheusMiddleware.Initialize(cfg.HookPath, http.MethodPost, code)
	}

	router := chi.NewRouter()
	router.Use(
		chi_middleware.RealIP,
		middleware.RequestLogger(),
		middleware.Tracing(),
		prometheusMiddleware.Handler(),
		chi_middleware.StripSlashes,
	)

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render(w, webhook.Outcome{Status: http.StatusNotFound, Message: "404 Not Found"})
	})
	router.MethodNotAllowed(methodNotAllowed)

	router.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		render(w, webhook.OK("OK!"))
	})

	if len(cfg.MetricsPath) > 0 {
		router.Get(cfg.MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}

	router.Get(cfg.HookPath, methodNotAllowed)
	router.Post(cfg.HookPath, hookHandler.ServeHTTP)

	return router
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	render(w, webhook.Outcome{Status: http.StatusMethodNotAllowed, Message: "405 Method Not Allowed"})
}
