// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// TransactionsRecorded counts committed appends by type and direction.
var TransactionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "transactions_recorded_total",
	Help:      "Committed ledger transactions by type and direction.",
}, []string{"type", "direction"})

// TransactionsDeleted counts soft deletes by type.
var TransactionsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "transactions_deleted_total",
	Help:      "Soft-deleted ledger transactions by type.",
}, []string{"type"})

// AmountRecorded sums absolute transaction amounts in minor units.
var AmountRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "amount_recorded_total",
	Help:      "Sum of committed transaction amounts in minor units, by direction.",
}, []string{"direction"})

// BalanceDrift is the number of accounts whose cache disagrees with a replay,
// as of the last reconciliation.
var BalanceDrift = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ledger",
	Name:      "balance_drift_accounts",
	Help:      "Accounts whose cached balance differed from the replayed balance at the last reconciliation.",
})

// ─── Overdraft ──────────────────────────────────────────────────────────────

var OverdraftSystemTotal = promauto.NewGauge(prometheus.GaugeOpts{
	Subsystem: "overdraft",
	Name:      "system_total",
	Help:      "Sum of overdraft amounts over all accounts at the last snapshot.",
})

var OverdraftDriversOverdrawn = promauto.NewGauge(prometheus.GaugeOpts{
	Subsystem: "overdraft",
	Name:      "drivers_overdrawn",
	Help:      "Number of overdrawn drivers at the last snapshot.",
})

var OverdraftCriticalCases = promauto.NewGauge(prometheus.GaugeOpts{
	Subsystem: "overdraft",
	Name:      "critical_cases",
	Help:      "Number of drivers in critical overdraft at the last snapshot.",
})

// TrendDuration observes DailySeries latency, labelled by cache outcome.
var TrendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "overdraft",
	Name:      "trend_duration_seconds",
	Help:      "Time spent producing an overdraft trend series.",
	Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"cache"})

// AggregationWarnings counts per-driver failures that degraded a report.
var AggregationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "overdraft",
	Name:      "aggregation_warnings_total",
	Help:      "Per-driver failures that produced partial summary or trend results.",
}, []string{"report"})

// SetOverdraftSnapshot publishes the system summary gauges.
func SetOverdraftSnapshot(total int64, overdrawn, critical int) {
	OverdraftSystemTotal.Set(float64(total))
	OverdraftDriversOverdrawn.Set(float64(overdrawn))
	OverdraftCriticalCases.Set(float64(critical))
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route pattern, method and status.",
}, []string{"route", "method", "status"})

var httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route pattern.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "method"})

// PanicsRecovered counts handler panics turned into 500 responses.
var PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "http",
	Name:      "panics_recovered_total",
	Help:      "Handler panics recovered by route pattern.",
}, []string{"route"})

// RoutePattern is the matched chi pattern, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Instrument records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := RoutePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
