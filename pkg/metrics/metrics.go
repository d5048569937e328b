package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/operator-dao/pkg/models"
)

// Metrics holds the Prometheus collectors for governance activity.
// It implements governance.MetricsRecorder.
type Metrics struct {
	constructed      prometheus.Counter
	proposalsCreated prometheus.Counter
	votes            *prometheus.CounterVec
	executions       *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	operators        prometheus.Gauge
	treasuryBalance  prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		constructed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dao_constructed_total",
			Help: "Number of successful construct calls (0 or 1)",
		}),
		proposalsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dao_proposals_created_total",
			Help: "Total number of proposals created",
		}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dao_votes_total",
			Help: "Total number of recorded votes by direction",
		}, []string{"approve"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dao_executions_total",
			Help: "Total number of executed proposals by action kind",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dao_rejections_total",
			Help: "Total number of rejected governance calls by operation and error code",
		}, []string{"operation", "code"}),
		operators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dao_operators",
			Help: "Current number of operators",
		}),
		treasuryBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dao_treasury_balance",
			Help: "Current treasury balance in base units",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dao_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dao_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		registry: registry,
	}

	registry.MustRegister(
		m.constructed,
		m.proposalsCreated,
		m.votes,
		m.executions,
		m.rejections,
		m.operators,
		m.treasuryBalance,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) Constructed() { m.constructed.Inc() }

func (m *Metrics) ProposalCreated() { m.proposalsCreated.Inc() }

func (m *Metrics) VoteRecorded(approve bool) {
	m.votes.WithLabelValues(strconv.FormatBool(approve)).Inc()
}

func (m *Metrics) ProposalExecuted(kind models.ActionKind) {
	m.executions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Rejected(operation string, code int) {
	m.rejections.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}

func (m *Metrics) OperatorCount(n int) { m.operators.Set(float64(n)) }

// TreasuryBalance sets the balance gauge; float64 loses precision past 2^53
func (m *Metrics) TreasuryBalance(amount uint64) { m.treasuryBalance.Set(float64(amount)) }

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware counts requests by mux route template, not raw path,
// so proposal ids do not explode label cardinality.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
