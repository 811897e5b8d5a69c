package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestMiddleware_countsErrors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	for _, p := range []string{"/ok", "/bad", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal); got != 2 {
		t.Errorf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestIncDecorated_labels(t *testing.T) {
	m := New()
	m.IncDecorated("headers", "v")
	m.IncDecorated("headers", "v")
	m.IncDecorated("query", "")

	if got := testutil.ToFloat64(m.decoratedRequestsTotal.WithLabelValues("headers", "v")); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.decoratedRequestsTotal.WithLabelValues("query", "none")); got != 1 {
		t.Errorf("expected 1 for empty object type, got %v", got)
	}
}

func TestHandler_refreshesGauges(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler(func() { m.SetActiveSessions(3) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "cmcd_active_sessions 3") {
		t.Errorf("expected gauge in scrape output:\n%s", rec.Body.String())
	}
}
