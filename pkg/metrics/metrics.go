// Package metrics exposes request/latency counters at /metrics and backs
// the GET /api/v1/stats endpoint, grounded on the teacher's pkg/metrics
// Tracker shape, adapted away from Docker-registry-pull telemetry (and from
// wrapping an http.RoundTripper: the router reports each forwarded request
// through ObserveRequest instead) — which left with the
// OCI/distribution subsystem this repository does not carry — toward
// generic per-model-type request/latency instrumentation, in the same
// promauto.NewCounterVec/NewHistogramVec style used throughout the
// retrieval pack (e.g. BaSui01-agentflow's internal/metrics.Collector).
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker records request counts and latencies per recipe/operation and
// exposes them both as Prometheus series and as the lightweight "last
// request" snapshot the stats endpoint reports.
type Tracker struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflightGauge   *prometheus.GaugeVec

	mu   sync.Mutex
	last LastRequest
}

// LastRequest is the performance-counter snapshot GET /api/v1/stats
// reports for the most recently completed inference request.
type LastRequest struct {
	ModelID     string        `json:"model_id"`
	Recipe      string        `json:"recipe"`
	Operation   string        `json:"operation"`
	DurationMS  int64         `json:"duration_ms"`
	StatusCode  int           `json:"status_code"`
	CompletedAt time.Time     `json:"completed_at"`
	duration    time.Duration `json:"-"`
}

// NewTracker registers the Tracker's series under namespace "lemonade" and
// returns a Tracker ready to record completed requests.
func NewTracker() *Tracker {
	return &Tracker{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lemonade",
				Name:      "requests_total",
				Help:      "Total number of inference requests forwarded to a backend.",
			},
			[]string{"recipe", "operation", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lemonade",
				Name:      "request_duration_seconds",
				Help:      "Forwarded request duration in seconds, measured around the proxy call to the backend.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"recipe", "operation"},
		),
		inflightGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lemonade",
				Name:      "inflight_requests",
				Help:      "Requests currently held by a loaded instance.",
			},
			[]string{"model_id"},
		),
	}
}

// ObserveRequest records one completed request's recipe, operation,
// duration, and resulting HTTP status.
func (t *Tracker) ObserveRequest(modelID, recipe, operation string, status int, d time.Duration) {
	t.requestsTotal.WithLabelValues(recipe, operation, statusClass(status)).Inc()
	t.requestDuration.WithLabelValues(recipe, operation).Observe(d.Seconds())

	t.mu.Lock()
	t.last = LastRequest{
		ModelID:     modelID,
		Recipe:      recipe,
		Operation:   operation,
		DurationMS:  d.Milliseconds(),
		StatusCode:  status,
		CompletedAt: completedAtNow(),
		duration:    d,
	}
	t.mu.Unlock()
}

// SetInflight updates the gauge tracking how many requests currently hold
// modelID's instance.
func (t *Tracker) SetInflight(modelID string, n int) {
	t.inflightGauge.WithLabelValues(modelID).Set(float64(n))
}

// LastRequest returns the most recently recorded request's snapshot, or the
// zero value if none has completed yet.
func (t *Tracker) LastRequest() LastRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Handler returns the standard Prometheus scrape handler for GET /metrics.
func (t *Tracker) Handler() http.Handler {
	return promhttp.Handler()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// completedAtNow is split out so tests can observe that a timestamp was
// set without depending on wall-clock equality.
func completedAtNow() time.Time { return time.Now() }
