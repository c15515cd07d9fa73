package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}

	RedirectsTotal.Inc()

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "timelock_redirects_total") {
		t.Error("Expected timelock_redirects_total in metrics output")
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(OverlayShownTotal.WithLabelValues("quota"))
	OverlayShownTotal.WithLabelValues("quota").Inc()
	after := testutil.ToFloat64(OverlayShownTotal.WithLabelValues("quota"))
	if after-before != 1 {
		t.Errorf("Expected counter to increase by 1, got %v", after-before)
	}
}
