package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/labopti/labopti/internal/platform/db"
)

func newTestServer(t *testing.T) (*echo.Echo, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	p := NewProvider(reg, Config{ServiceName: "test-svc"})

	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})
	return e, reg
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	e, reg := newTestServer(t)

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id, nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	want := `
# HELP http_server_response_size_bytes Size of HTTP response bodies in bytes.
# TYPE http_server_response_size_bytes histogram
http_server_response_size_bytes_bucket{le="100"} 3
http_server_response_size_bytes_bucket{le="1000"} 3
http_server_response_size_bytes_bucket{le="10000"} 3
http_server_response_size_bytes_bucket{le="100000"} 3
http_server_response_size_bytes_bucket{le="1e+06"} 3
http_server_response_size_bytes_bucket{le="1e+07"} 3
http_server_response_size_bytes_bucket{le="+Inf"} 3
http_server_response_size_bytes_sum 15
http_server_response_size_bytes_count 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "http_server_response_size_bytes"); err != nil {
		t.Fatal(err)
	}

	n, err := testutil.GatherAndCount(reg, "http_server_request_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one route series, got %d", n)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	e, reg := newTestServer(t)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "http_server_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "502" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("expected a series with status=502")
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	e, reg := newTestServer(t)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "http_server_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/nope/123" {
					t.Fatalf("unexpected route label %q", l.GetValue())
				}
			}
		}
	}
}

func TestActiveRequestsReturnsToZero(t *testing.T) {
	e, reg := newTestServer(t)
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/patients/x", nil))

	want := `
# HELP http_server_active_requests Number of in-flight HTTP requests.
# TYPE http_server_active_requests gauge
http_server_active_requests 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "http_server_active_requests"); err != nil {
		t.Fatal(err)
	}
}

func TestBuildInfoDefaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewProvider(reg, Config{})

	want := `
# HELP labopti_build_info Service build information.
# TYPE labopti_build_info gauge
labopti_build_info{deployment_environment="development",service_name="labopti-server",service_version="0.0.0"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "labopti_build_info"); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterPoolStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProvider(reg, Config{})
	p.RegisterPoolStats(func() *db.PoolStats {
		return &db.PoolStats{AcquiredConns: 3, IdleConns: 2, MaxConns: 20}
	})

	want := `
# HELP db_pool_acquired_connections Connections currently in use.
# TYPE db_pool_acquired_connections gauge
db_pool_acquired_connections 3
# HELP db_pool_max_connections Configured pool size.
# TYPE db_pool_max_connections gauge
db_pool_max_connections 20
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"db_pool_acquired_connections", "db_pool_max_connections"); err != nil {
		t.Fatal(err)
	}
}
