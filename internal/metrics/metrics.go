package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phase values reported by the connection phase gauge.
const (
	PhaseDisconnected = 0
	PhaseConnecting   = 1
	PhaseConnected    = 2
)

// Registry holds all metrics for the agent.
//
// Every method is safe to call on a nil *Registry so components can be built
// without metrics in tests.
type Registry struct {
	ConnectionPhase   prometheus.Gauge
	ReconnectAttempts prometheus.Gauge
	HandshakesTotal   *prometheus.CounterVec
	ClosesTotal       prometheus.Counter
	ReconnectsGivenUp prometheus.Counter

	UpdatesAppliedTotal  *prometheus.CounterVec
	UpdatesRejectedTotal prometheus.Counter
	CollectionSize       prometheus.Gauge

	WriterRowsTotal   prometheus.Counter
	WriterErrorsTotal prometheus.Counter

	RefreshesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Registry{
		ConnectionPhase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apptsync_connection_phase",
			Help: "Live-update connection phase (0=disconnected, 1=connecting, 2=connected)",
		}),
		ReconnectAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apptsync_reconnect_attempts",
			Help: "Consecutive failed connection attempts since the last successful handshake",
		}),
		HandshakesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apptsync_handshakes_total",
			Help: "Transport handshakes by result",
		}, []string{"result"}),
		ClosesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apptsync_unexpected_closes_total",
			Help: "Established connections that closed without being asked to",
		}),
		ReconnectsGivenUp: factory.NewCounter(prometheus.CounterOpts{
			Name: "apptsync_reconnects_exhausted_total",
			Help: "Times automatic reconnection stopped after reaching the attempt limit",
		}),
		UpdatesAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apptsync_updates_applied_total",
			Help: "Appointment updates merged into the collection by outcome",
		}, []string{"op"}),
		UpdatesRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apptsync_updates_rejected_total",
			Help: "Inbound payloads that could not be decoded or had no appointmentId",
		}),
		CollectionSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apptsync_collection_size",
			Help: "Number of appointments currently held",
		}),
		WriterRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apptsync_writer_rows_total",
			Help: "Appointment updates persisted to the update log",
		}),
		WriterErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apptsync_writer_errors_total",
			Help: "Failed update log batch inserts",
		}),
		RefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apptsync_refreshes_total",
			Help: "REST refreshes of the collection by result",
		}, []string{"result"}),
		registry: reg,
	}
}

// Handler returns the HTTP handler exposing the registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetPhase records the connection phase.
func (r *Registry) SetPhase(phase int) {
	if r == nil {
		return
	}
	r.ConnectionPhase.Set(float64(phase))
}

// SetReconnectAttempts records the consecutive failure count.
func (r *Registry) SetReconnectAttempts(n int) {
	if r == nil {
		return
	}
	r.ReconnectAttempts.Set(float64(n))
}

// Handshake counts a handshake outcome.
func (r *Registry) Handshake(ok bool) {
	if r == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	r.HandshakesTotal.WithLabelValues(result).Inc()
}

// UnexpectedClose counts an established connection dropping.
func (r *Registry) UnexpectedClose() {
	if r == nil {
		return
	}
	r.ClosesTotal.Inc()
}

// ReconnectExhausted counts automatic reconnection giving up.
func (r *Registry) ReconnectExhausted() {
	if r == nil {
		return
	}
	r.ReconnectsGivenUp.Inc()
}

// UpdateApplied counts a merged update. replaced is false for inserts.
func (r *Registry) UpdateApplied(replaced bool, size int) {
	if r == nil {
		return
	}
	op := "insert"
	if replaced {
		op = "replace"
	}
	r.UpdatesAppliedTotal.WithLabelValues(op).Inc()
	r.CollectionSize.Set(float64(size))
}

// UpdateRejected counts a payload that was dropped.
func (r *Registry) UpdateRejected() {
	if r == nil {
		return
	}
	r.UpdatesRejectedTotal.Inc()
}

// WriterFlushed records a batch outcome.
func (r *Registry) WriterFlushed(rows int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.WriterErrorsTotal.Inc()
		return
	}
	r.WriterRowsTotal.Add(float64(rows))
}

// Refreshed records a REST refresh outcome.
func (r *Registry) Refreshed(size int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.RefreshesTotal.WithLabelValues("error").Inc()
		return
	}
	r.RefreshesTotal.WithLabelValues("ok").Inc()
	r.CollectionSize.Set(float64(size))
}
