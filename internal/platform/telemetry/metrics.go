package telemetry

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/db"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := append([]int64(nil), h.bucketCounts...)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics collects HTTP and booking metrics and serves them in the
// Prometheus text exposition format.
type Metrics struct {
	mu         sync.RWMutex
	durations  map[string]*histogram // method|route|status
	outcomes   map[string]*int64     // booking outcome
	active     int64
	poolStats  func() *db.PoolStats
	boundaries []float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations:  make(map[string]*histogram),
		outcomes:   make(map[string]*int64),
		boundaries: defaultDurationBuckets,
	}
}

// WithPoolStats makes the handler report connection pool gauges.
func (m *Metrics) WithPoolStats(fn func() *db.PoolStats) *Metrics {
	m.poolStats = fn
	return m
}

// LabelsKey builds the key of a request duration series.
func LabelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

func (m *Metrics) durationFor(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(m.boundaries)
		m.durations[key] = h
	}
	return h
}

// BookingOutcome counts one booking attempt by result ("booked",
// "slot_taken", ...).
func (m *Metrics) BookingOutcome(outcome string) {
	m.mu.RLock()
	p, ok := m.outcomes[outcome]
	m.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}

	m.mu.Lock()
	if p, ok = m.outcomes[outcome]; !ok {
		var v int64
		p = &v
		m.outcomes[outcome] = p
	}
	m.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (m *Metrics) Outcome(outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.outcomes[outcome]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// Middleware records request duration by route and the number of requests in
// flight. Errors are passed on untouched so outer middleware and echo's error
// handler still see them.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(responseStatus(c, err))
			m.durationFor(LabelsKey(c.Request().Method, route, status)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// responseStatus is the status the client will get once err, if any, has been
// written by the error handler.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		if status := c.Response().Status; status != 0 {
			return status
		}
		return http.StatusOK
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	durations := make(map[string]*histogram, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	outcomes := make(map[string]int64, len(m.outcomes))
	for k, p := range m.outcomes {
		outcomes[k] = atomic.LoadInt64(p)
	}
	m.mu.RUnlock()

	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
	for _, key := range sortedKeys(durations) {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, "http_server_request_duration_seconds", labels, durations[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP booking_outcomes_total Booking attempts by outcome.\n")
	b.WriteString("# TYPE booking_outcomes_total counter\n")
	for _, outcome := range sortedKeys(outcomes) {
		fmt.Fprintf(b, "booking_outcomes_total{outcome=%q} %d\n", outcome, outcomes[outcome])
	}
	b.WriteByte('\n')

	if m.poolStats == nil {
		return
	}
	stats := m.poolStats()
	if stats == nil {
		return
	}
	gauges := []struct {
		name, help string
		val        int32
	}{
		{"db_pool_total_connections", "Open database connections.", stats.TotalConns},
		{"db_pool_idle_connections", "Idle database connections.", stats.IdleConns},
		{"db_pool_acquired_connections", "Database connections in use.", stats.AcquiredConns},
	}
	for _, g := range gauges {
		fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", g.name, g.help, g.name, g.name, g.val)
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
