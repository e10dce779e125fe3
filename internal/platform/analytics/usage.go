// Package analytics keeps in-memory API usage counters for operators.
package analytics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

// RequestMetric is one served request.
type RequestMetric struct {
	Timestamp  time.Time
	Method     string
	Route      string
	StatusCode int
	Duration   time.Duration
	Role       string
}

type routeStats struct {
	requests  int64
	errors    int64
	total     time.Duration
	latencies []time.Duration // ring of the most recent samples
	next      int
	statuses  map[int]int64
}

// RouteSummary aggregates one method and route template.
type RouteSummary struct {
	Route           string        `json:"route"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

type Overview struct {
	Since         time.Time        `json:"since"`
	TotalRequests int64            `json:"total_requests"`
	TotalErrors   int64            `json:"total_errors"`
	ErrorRate     float64          `json:"error_rate"`
	AvgLatency    time.Duration    `json:"avg_latency"`
	ByRole        map[string]int64 `json:"by_role"`
	TopRoutes     []*RouteSummary  `json:"top_routes"`
}

// UsageTracker is safe for concurrent use.
type UsageTracker struct {
	mu        sync.Mutex
	since     time.Time
	samples   int
	routes    map[string]*routeStats
	roles     map[string]int64
	requests  int64
	errors    int64
	totalTime time.Duration
}

// NewUsageTracker keeps up to samples latencies per route for percentiles.
func NewUsageTracker(samples int) *UsageTracker {
	if samples <= 0 {
		samples = 1000
	}
	return &UsageTracker{
		since:   time.Now().UTC(),
		samples: samples,
		routes:  make(map[string]*routeStats),
		roles:   make(map[string]int64),
	}
}

func (t *UsageTracker) Record(m RequestMetric) {
	key := m.Method + " " + m.Route
	isError := m.StatusCode >= 400

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	t.totalTime += m.Duration
	if isError {
		t.errors++
	}
	role := m.Role
	if role == "" {
		role = "anonymous"
	}
	t.roles[role]++

	rs, ok := t.routes[key]
	if !ok {
		rs = &routeStats{statuses: make(map[int]int64)}
		t.routes[key] = rs
	}
	rs.requests++
	rs.total += m.Duration
	rs.statuses[m.StatusCode]++
	if isError {
		rs.errors++
	}
	if len(rs.latencies) < t.samples {
		rs.latencies = append(rs.latencies, m.Duration)
	} else {
		rs.latencies[rs.next] = m.Duration
		rs.next = (rs.next + 1) % t.samples
	}
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func (rs *routeStats) summary(route string) *RouteSummary {
	s := &RouteSummary{
		Route:           route,
		TotalRequests:   rs.requests,
		ErrorRate:       rate(rs.errors, rs.requests),
		StatusBreakdown: make(map[int]int64, len(rs.statuses)),
	}
	if rs.requests > 0 {
		s.AvgLatency = rs.total / time.Duration(rs.requests)
	}
	for code, n := range rs.statuses {
		s.StatusBreakdown[code] = n
	}
	if n := len(rs.latencies); n > 0 {
		sorted := append([]time.Duration(nil), rs.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(n)*0.95+0.5) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		s.P95Latency = sorted[idx]
	}
	return s
}

// TopRoutes returns the busiest routes, most requests first.
func (t *UsageTracker) TopRoutes(limit int) []*RouteSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topRoutes(limit)
}

func (t *UsageTracker) topRoutes(limit int) []*RouteSummary {
	out := make([]*RouteSummary, 0, len(t.routes))
	for key, rs := range t.routes {
		out = append(out, rs.summary(key))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].Route < out[j].Route
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *UsageTracker) Overview() *Overview {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := &Overview{
		Since:         t.since,
		TotalRequests: t.requests,
		TotalErrors:   t.errors,
		ErrorRate:     rate(t.errors, t.requests),
		ByRole:        make(map[string]int64, len(t.roles)),
		TopRoutes:     t.topRoutes(10),
	}
	if t.requests > 0 {
		o.AvgLatency = t.totalTime / time.Duration(t.requests)
	}
	for role, n := range t.roles {
		o.ByRole[role] = n
	}
	return o
}

// primaryRole picks the most privileged role so admins are not counted as
// doctors.
func primaryRole(roles []string) string {
	best := ""
	rank := map[string]int{auth.RolePatient: 1, auth.RoleDoctor: 2, auth.RoleAdmin: 3}
	for _, r := range roles {
		if rank[r] > rank[best] {
			best = r
		}
	}
	return best
}

// UsageMiddleware records every request under its route template, so
// /patients/:id counts once regardless of the id.
func UsageMiddleware(tracker *UsageTracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			tracker.Record(RequestMetric{
				Timestamp:  start,
				Method:     c.Request().Method,
				Route:      route,
				StatusCode: status,
				Duration:   time.Since(start),
				Role:       primaryRole(auth.RolesFromContext(c.Request().Context())),
			})
			return err
		}
	}
}

type Handler struct {
	tracker *UsageTracker
}

func NewHandler(tracker *UsageTracker) *Handler {
	return &Handler{tracker: tracker}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/usage", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.Overview)
	g.GET("/routes", h.TopRoutes)
}

func (h *Handler) Overview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Overview())
}

func (h *Handler) TopRoutes(c echo.Context) error {
	limit := 20
	if l := strings.TrimSpace(c.QueryParam("limit")); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return c.JSON(http.StatusOK, h.tracker.TopRoutes(limit))
}
