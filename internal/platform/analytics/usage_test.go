package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

func TestUsageTracker_Record(t *testing.T) {
	tracker := NewUsageTracker(100)
	tracker.Record(RequestMetric{Method: "GET", Route: "/api/v1/patients/:id", StatusCode: 200, Duration: 10 * time.Millisecond, Role: auth.RoleDoctor})
	tracker.Record(RequestMetric{Method: "GET", Route: "/api/v1/patients/:id", StatusCode: 404, Duration: 30 * time.Millisecond, Role: auth.RoleDoctor})
	tracker.Record(RequestMetric{Method: "GET", Route: "/health", StatusCode: 200, Duration: time.Millisecond})

	o := tracker.Overview()
	if o.TotalRequests != 3 || o.TotalErrors != 1 {
		t.Fatalf("unexpected totals %+v", o)
	}
	if o.ByRole[auth.RoleDoctor] != 2 || o.ByRole["anonymous"] != 1 {
		t.Errorf("unexpected role counts %v", o.ByRole)
	}

	top := tracker.TopRoutes(1)
	if len(top) != 1 {
		t.Fatalf("expected 1 route, got %d", len(top))
	}
	r := top[0]
	if r.Route != "GET /api/v1/patients/:id" || r.TotalRequests != 2 {
		t.Errorf("unexpected top route %+v", r)
	}
	if r.ErrorRate != 0.5 {
		t.Errorf("error rate = %v, want 0.5", r.ErrorRate)
	}
	if r.AvgLatency != 20*time.Millisecond || r.P95Latency != 30*time.Millisecond {
		t.Errorf("unexpected latencies avg=%s p95=%s", r.AvgLatency, r.P95Latency)
	}
	if r.StatusBreakdown[404] != 1 {
		t.Errorf("unexpected status breakdown %v", r.StatusBreakdown)
	}
}

func TestUsageTracker_LatencySamplesBounded(t *testing.T) {
	tracker := NewUsageTracker(10)
	for i := 0; i < 25; i++ {
		tracker.Record(RequestMetric{Method: "GET", Route: "/x", StatusCode: 200, Duration: time.Duration(i) * time.Millisecond})
	}
	rs := tracker.routes["GET /x"]
	if len(rs.latencies) != 10 {
		t.Errorf("expected 10 samples, got %d", len(rs.latencies))
	}
	if rs.requests != 25 {
		t.Errorf("expected 25 requests, got %d", rs.requests)
	}
}

func TestUsageTracker_Concurrent(t *testing.T) {
	tracker := NewUsageTracker(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Record(RequestMetric{Method: "POST", Route: "/api/v1/patients/:id/lab-results", StatusCode: 201})
			}
		}()
	}
	wg.Wait()
	if got := tracker.Overview().TotalRequests; got != 1000 {
		t.Errorf("expected 1000 requests, got %d", got)
	}
}

func TestPrimaryRole(t *testing.T) {
	if got := primaryRole([]string{auth.RoleDoctor, auth.RoleAdmin}); got != auth.RoleAdmin {
		t.Errorf("got %q, want admin", got)
	}
	if got := primaryRole(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestUsageMiddleware_UsesRouteTemplate(t *testing.T) {
	tracker := NewUsageTracker(10)
	e := echo.New()
	e.Use(UsageMiddleware(tracker))
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id, nil))
	}

	top := tracker.TopRoutes(0)
	if len(top) != 1 || top[0].TotalRequests != 2 {
		t.Fatalf("expected one route with 2 requests, got %+v", top)
	}
	if top[0].StatusBreakdown[404] != 2 {
		t.Errorf("expected HTTP errors to be counted as 404, got %v", top[0].StatusBreakdown)
	}
}

func TestHandler_AdminOnly(t *testing.T) {
	tracker := NewUsageTracker(10)
	tracker.Record(RequestMetric{Method: "GET", Route: "/health", StatusCode: 200})

	e := echo.New()
	api := e.Group("/api/v1")
	NewHandler(tracker).RegisterRoutes(api)

	call := func(role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/usage", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), "u1", role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := call(auth.RoleDoctor); rec.Code != http.StatusForbidden {
		t.Errorf("doctor: expected 403, got %d", rec.Code)
	}
	rec := call(auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
	var o Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.TotalRequests != 1 {
		t.Errorf("unexpected overview %+v", o)
	}
}
