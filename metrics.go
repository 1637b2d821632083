package main

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricHTTPRequestsTotal   = "misyar_http_requests_total"
	metricRankDuration        = "misyar_rank_duration_seconds"
	metricRankCandidatesTotal = "misyar_rank_candidates_total"
	metricWSConnections       = "misyar_ws_connections"
)

// Outcomes counted by misyar_rank_candidates_total.
const (
	outcomeScored   = "scored"
	outcomeSkipped  = "skipped"
	outcomeFiltered = "filtered"
)

// Metrics holds the server's Prometheus collectors. All operations are thread-safe.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	rankDuration   prometheus.Histogram
	rankCandidates *prometheus.CounterVec
	wsConnections  prometheus.Gauge
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricHTTPRequestsTotal,
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		rankDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricRankDuration,
				Help:    "Time spent ranking one candidate pool",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		rankCandidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricRankCandidatesTotal,
				Help: "Candidates seen by the ranker, by outcome",
			},
			[]string{"outcome"},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricWSConnections,
				Help: "Open websocket connections",
			},
		),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.httpRequests,
		m.rankDuration,
		m.rankCandidates,
		m.wsConnections,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeRequest(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) observeRank(seconds float64, scored, skipped, filtered int) {
	m.rankDuration.Observe(seconds)
	m.rankCandidates.WithLabelValues(outcomeScored).Add(float64(scored))
	m.rankCandidates.WithLabelValues(outcomeSkipped).Add(float64(skipped))
	m.rankCandidates.WithLabelValues(outcomeFiltered).Add(float64(filtered))
}

// statusRecorder captures the response status. It passes Hijack through so
// the websocket route can be counted too.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// countRequests records misyar_http_requests_total under the route pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) countRequests(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.observeRequest(r.Method, route, rec.status)
	})
}
