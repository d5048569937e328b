package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/operator-dao/pkg/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestRecorderCounters(t *testing.T) {
	m := New()
	m.Constructed()
	m.ProposalCreated()
	m.ProposalCreated()
	m.VoteRecorded(true)
	m.VoteRecorded(false)
	m.VoteRecorded(true)
	m.ProposalExecuted(models.ActionAddOperator)
	m.Rejected("signal", 4003)
	m.OperatorCount(4)
	m.TreasuryBalance(1000)

	body := scrape(t, m)
	for _, line := range []string{
		"dao_constructed_total 1",
		"dao_proposals_created_total 2",
		`dao_votes_total{approve="true"} 2`,
		`dao_votes_total{approve="false"} 1`,
		`dao_executions_total{kind="add-operator"} 1`,
		`dao_rejections_total{code="4003",operation="signal"} 1`,
		"dao_operators 4",
		"dao_treasury_balance 1000",
	} {
		assert.Contains(t, body, line)
	}
}

func TestHTTPMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.HandleFunc("/proposals/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	for _, path := range []string{"/proposals/1", "/proposals/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, `dao_http_requests_total{method="GET",route="/proposals/{id}",status="404"} 2`)
	assert.NotContains(t, body, `route="/proposals/1"`)
}
