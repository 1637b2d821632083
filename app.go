package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/config"
	"github.com/MasterBuilder91/misyar-connect/store"
)

// app carries everything a handler needs. Handlers receive it explicitly.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	stores    *store.Stores
	hub       *Hub
	metrics   *Metrics
	registry  *prometheus.Registry
	tp        trace.TracerProvider
	tracer    trace.Tracer
	limiter   *clientLimiter
	jwtSecret []byte
	now       func() time.Time
}

type appOption func(*app)

func withTracerProvider(tp trace.TracerProvider) appOption {
	return func(a *app) { a.tp = tp }
}

func withClock(now func() time.Time) appOption {
	return func(a *app) { a.now = now }
}

func newApp(cfg *config.Config, log *zap.Logger, stores *store.Stores, opts ...appOption) (*app, error) {
	a := &app{
		cfg:       cfg,
		log:       log,
		stores:    stores,
		metrics:   NewMetrics(),
		registry:  prometheus.NewRegistry(),
		tp:        otel.GetTracerProvider(),
		limiter:   newClientLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		jwtSecret: []byte(cfg.JWTSecret),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.metrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	a.tracer = a.tp.Tracer(tracerName)
	a.hub = newHub(func(delta int) { a.metrics.wsConnections.Add(float64(delta)) })
	return a, nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	// route instruments a handler under its pattern for spans and request counts.
	route := func(pattern string, h http.Handler) {
		traced := otelhttp.NewHandler(h, pattern,
			otelhttp.WithTracerProvider(a.tp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + pattern
			}),
		)
		mux.Handle(pattern, a.metrics.countRequests(pattern, traced))
	}

	route("/health", healthHandler(a))
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	route("/register", a.rateLimited(registerHandler(a)))
	route("/login", a.rateLimited(loginHandler(a)))

	route("/me/ping", mePingHandler(a))
	route("/me/profile", myProfileHandler(a))
	route("/me/rights", myRightsHandler(a))
	route("/me/preferences", myPreferencesHandler(a))
	route("/me/photo", myPhotoHandler(a))
	route("/rights", rightsCatalogHandler())
	route("/users/", userProfileHandler(a))
	route("/photos/", photoHandler(a))

	route("/matches", matchesHandler(a))
	route("/matches/", matchDispatcher(a))
	route("/interests", interestsListHandler(a))
	route("/interests/", interestDispatcher(a))

	route("/conversations", conversationsHandler(a))
	route("/conversations/", conversationDispatcher(a))

	route("/reports", reportsHandler(a))
	route("/admin/reports", adminReportsHandler(a))
	route("/admin/reports/", adminReportDispatcher(a))

	// The websocket route skips otelhttp: the upgrade needs the raw connection.
	mux.Handle("/ws", a.metrics.countRequests("/ws", wsChatHandler(a)))

	var h http.Handler = mux
	h = a.withDataLoaders(h)
	h = withCORS(a.cfg.CORSOrigins, h)
	h = withRequestID(h)
	h = a.withRecover(h)
	return h
}

// GET /health
func healthHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"store":  a.cfg.Store.Driver,
		})
	}
}
