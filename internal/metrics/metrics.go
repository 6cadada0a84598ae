// Package metrics holds the Prometheus instruments for sync passes and the
// dashboard.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync pass outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomePartial = "partial"
	OutcomeError   = "error"
	OutcomeBusy    = "busy"
)

// Registry holds all instruments. A nil *Registry is valid and records nothing.
type Registry struct {
	gatherer prometheus.Gatherer

	// Sync metrics
	SyncPassesTotal  *prometheus.CounterVec
	SyncPassDuration prometheus.Histogram
	SyncRecordsTotal prometheus.Counter
	SyncRetriesTotal prometheus.Counter
	UnsyncedRecords  prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WebsocketClients    prometheus.Gauge
}

// New registers every instrument with reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg *prometheus.Registry) *Registry {
	f := promauto.With(reg)
	return &Registry{
		gatherer: reg,

		SyncPassesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_sync_passes_total",
				Help: "Sync passes by outcome",
			},
			[]string{"outcome"},
		),
		SyncPassDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inspect_sync_pass_duration_seconds",
				Help:    "Wall time of sync passes that reached the remote archive",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		SyncRecordsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "inspect_sync_records_total",
				Help: "Records uploaded and marked synced",
			},
		),
		SyncRetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "inspect_sync_retries_total",
				Help: "Chunk uploads retried after a remote failure",
			},
		),
		UnsyncedRecords: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "inspect_unsynced_records",
				Help: "Records still awaiting upload after the last pass",
			},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_http_requests_total",
				Help: "Dashboard HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspect_http_request_duration_seconds",
				Help:    "Dashboard HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route", "method"},
		),
		WebsocketClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "inspect_websocket_clients",
				Help: "Connected dashboard websocket clients",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObservePass records the outcome of one sync pass.
func (r *Registry) ObservePass(outcome string, pending, synced int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.SyncPassesTotal.WithLabelValues(outcome).Inc()
	r.UnsyncedRecords.Set(float64(pending - synced))
	if outcome != OutcomeEmpty && outcome != OutcomeBusy {
		r.SyncPassDuration.Observe(elapsed.Seconds())
	}
	r.SyncRecordsTotal.Add(float64(synced))
}

// ObserveRetry counts one retried chunk upload.
func (r *Registry) ObserveRetry() {
	if r == nil {
		return
	}
	r.SyncRetriesTotal.Inc()
}

// ObserveBusy counts a pass rejected because another was running.
func (r *Registry) ObserveBusy() {
	if r == nil {
		return
	}
	r.SyncPassesTotal.WithLabelValues(OutcomeBusy).Inc()
}

// ObserveRequest records one HTTP request.
func (r *Registry) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ClientConnected adjusts the websocket client gauge by delta.
func (r *Registry) ClientConnected(delta int) {
	if r == nil {
		return
	}
	r.WebsocketClients.Add(float64(delta))
}
