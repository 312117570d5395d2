package sync

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a sync pass.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	upstreamRequests *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	eventsFetched    *prometheus.CounterVec
	eventsInserted   prometheus.Counter
	eventsDuplicate  prometheus.Counter
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastSuccess      prometheus.Gauge
	cursorWatermark  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vaultsync_upstream_requests_total", Help: "Subgraph requests by endpoint and outcome"},
			[]string{"endpoint", "outcome"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vaultsync_endpoint_rate_limited_total", Help: "Rate-limit responses that blacklisted an endpoint"},
			[]string{"endpoint"},
		),
		eventsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vaultsync_events_fetched_total", Help: "New events fetched per category"},
			[]string{"category"},
		),
		eventsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "vaultsync_events_inserted_total", Help: "Event documents accepted by the store"},
		),
		eventsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "vaultsync_events_duplicate_total", Help: "Event documents ignored as already synced"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vaultsync_runs_total", Help: "Sync passes by status"},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "vaultsync_run_duration_seconds", Help: "Sync pass latency", Buckets: prometheus.DefBuckets},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "vaultsync_last_success_timestamp_seconds", Help: "Unix time of the last successful pass"},
		),
		cursorWatermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "vaultsync_cursor_block_timestamp", Help: "Stored cursor watermark per category"},
			[]string{"category"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.upstreamRequests, m.rateLimited, m.eventsFetched, m.eventsInserted, m.eventsDuplicate,
			m.runs, m.runDuration, m.lastSuccess, m.cursorWatermark,
		)
	}
	return m
}

func (m *Metrics) observeRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	if outcome == outcomeRateLimited {
		m.rateLimited.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) observeFetched(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsFetched.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) observeInsert(result InsertResult) {
	if m == nil {
		return
	}
	m.eventsInserted.Add(float64(result.Inserted))
	m.eventsDuplicate.Add(float64(result.Duplicates))
}

func (m *Metrics) observeCursor(category string, w Watermark) {
	if m == nil {
		return
	}
	if v, err := strconv.ParseFloat(string(w), 64); err == nil {
		m.cursorWatermark.WithLabelValues(category).Set(v)
	}
}

func (m *Metrics) observeRun(started, finished time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(finished.Sub(started).Seconds())
	if err == nil {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}
