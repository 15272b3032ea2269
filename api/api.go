// Package api exposes the Courier engine over HTTP.
//
// Jobs live under /v1/queues/{queue}/jobs, where {queue} is the encoded
// descriptor, path-escaped once more so its separator and escapes survive
// routing. The dead letter queue and the worker registry are exposed for
// operators, together with /healthz and a Prometheus /metrics endpoint.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/observability"
)

// maxRequestBodySize bounds creation requests, payload included.
const maxRequestBodySize = 1 << 20

// API wires the HTTP handlers for the courier system.
type API struct {
	eng      *engine.Engine
	logger   *slog.Logger
	validate *validator.Validate
	registry *prometheus.Registry
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRegistry sets the Prometheus registry served on /metrics. The store
// collector is registered into it.
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *API) { a.registry = r }
}

// New creates an API from a courier Engine.
func New(eng *engine.Engine, opts ...Option) (*API, error) {
	a := &API{
		eng:      eng,
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	collector := observability.NewCollector(eng.Store(), 5*time.Second, a.logger)
	if err := a.registry.Register(collector); err != nil {
		return nil, err
	}
	return a, nil
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.requestLogger)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all courier routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/queues/{queue}/jobs", func(r chi.Router) {
			r.Post("/", a.createJob)
			r.Get("/", a.listJobs)
			r.Get("/{jobId}", a.getJob)
			r.Delete("/{jobId}", a.deleteJob)
		})

		r.Get("/dlq", a.listDLQ)
		r.Delete("/dlq", a.purgeDLQ)
		r.Get("/dlq/{entryId}", a.getDLQ)
		r.Post("/dlq/{entryId}/replay", a.replayDLQ)

		r.Get("/workers", a.listWorkers)
	})
}

// requestLogger logs every request with its status and latency.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("route", chi.RouteContext(r.Context()).RoutePattern()),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
