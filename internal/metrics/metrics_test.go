package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordAttempt("increment", "allowed")
	m.RecordAttempt("increment", "allowed")
	m.RecordAttempt("increment", "blocked")
	m.RecordFeedback("stored")
	m.RecordNotification("interview_feedback", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("increment", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("increment", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedback.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("interview_feedback", "failed")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAttempt("check", "allowed")
		m.RecordFeedback("stored")
		m.RecordNotification("x", true)
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.InstrumentHandler(h))
}

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.InstrumentHandler)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/items/{id}", "418")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "interview_api_http_requests_total")
}
