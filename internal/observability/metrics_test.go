package observability

import (
	"net/http/httptest"
	"testing"
)

func TestNewMetricsServesExposition(t *testing.T) {
	m := NewMetrics()
	m.HTTPRequestCounter.WithLabelValues("GET", "/agent/skills", "200").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(rec.Body.Bytes()) == 0 {
		t.Fatal("expected non-empty exposition body")
	}
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	// Two independent Metrics instances must not collide on the default
	// registerer; this is the reason NewMetrics uses its own registry
	// instead of promauto's implicit global one.
	if m1, m2 := NewMetrics(), NewMetrics(); m1 == nil || m2 == nil {
		t.Fatal("expected both instances to construct without panicking")
	}
}
