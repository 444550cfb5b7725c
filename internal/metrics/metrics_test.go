package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestAndExport(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/api/clients/:id", 200, 42*time.Millisecond)
	m.RecordRequest("GET", "/api/clients/:id", 200, 8*time.Millisecond)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/clients/:id", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	if !strings.Contains(out, `consulate_http_requests_total{method="GET",route="/api/clients/:id",status="200"} 2`) {
		t.Fatalf("expected request counter in export, got:\n%s", out)
	}
	if !strings.Contains(out, "consulate_http_request_duration_seconds_bucket") {
		t.Fatalf("expected latency histogram in export")
	}
}

func TestObserveGate(t *testing.T) {
	m := New()
	m.ObserveGate("tenant", "", time.Millisecond)
	m.ObserveGate("tenant", "TENANT_MISMATCH", time.Millisecond)
	m.ObserveGate("tenant", "TENANT_MISMATCH", time.Millisecond)

	if got := testutil.ToFloat64(m.gateDecisions.WithLabelValues("tenant", "pass")); got != 1 {
		t.Fatalf("expected 1 pass, got %v", got)
	}
	if got := testutil.ToFloat64(m.gateDecisions.WithLabelValues("tenant", "TENANT_MISMATCH")); got != 2 {
		t.Fatalf("expected 2 mismatches, got %v", got)
	}
}

func TestRateLimitedAndLogins(t *testing.T) {
	m := New()
	m.RecordRateLimited("auth")
	m.RecordLogin(true)
	m.RecordLogin(false)
	m.RecordLogin(false)

	if got := testutil.ToFloat64(m.rateLimited.WithLabelValues("auth")); got != 1 {
		t.Fatalf("expected 1 rate-limited request, got %v", got)
	}
	if got := testutil.ToFloat64(m.logins.WithLabelValues("failure")); got != 2 {
		t.Fatalf("expected 2 failed logins, got %v", got)
	}
}
