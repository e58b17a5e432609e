package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("POST", "/fetch", 200, 0.001)
	IncWFSPage("short")
	AddFeatures("out", 3)
	IncCapabilityFailure("layers", "not_xml")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`app_build_info{version="test"} 1`,
		`http_requests_total{method="POST",route="/fetch",status="200"}`,
		`wfs_pages_total{outcome="short"}`,
		`wfs_features_total{stage="out"}`,
		`capabilities_failures_total{lookup="layers",reason="not_xml"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics payload missing %q; got:\n%s", want, body)
		}
	}
}

func TestAddFeatures_IgnoresZero(t *testing.T) {
	AddFeatures("dropped_null_zero_check", 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if strings.Contains(rr.Body.String(), "dropped_null_zero_check") {
		t.Fatalf("zero count should not create a series")
	}
}
