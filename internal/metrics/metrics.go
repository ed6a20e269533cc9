// Package metrics provides Prometheus metrics for the project builder.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ReconcileTotal      *prometheus.CounterVec
	ActionsTotal        *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
	RealtimeEventsTotal prometheus.Counter
	RealtimeSubscribers prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_http_requests_total",
				Help: "Total HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "builder_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_reconcile_total",
				Help: "Canvas reconciliations by memo result (hit or miss).",
			},
			[]string{"result"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_actions_total",
				Help: "Project and integration actions by name and result.",
			},
			[]string{"action", "result"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "builder_webhook_duration_seconds",
				Help:    "Automation webhook call duration by endpoint and result.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "result"},
		),
		RealtimeEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "builder_realtime_events_total",
				Help: "Brief UPDATE events published to realtime subscribers.",
			},
		),
		RealtimeSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "builder_realtime_subscribers",
				Help: "Currently open realtime subscriptions.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "builder_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	reg.MustRegister(m.ReconcileTotal)
	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.WebhookDuration)
	reg.MustRegister(m.RealtimeEventsTotal)
	reg.MustRegister(m.RealtimeSubscribers)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTP counts one finished request.
func (m *Metrics) RecordHTTP(method, route string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// ReconcileHit implements reconcile.Observer.
func (m *Metrics) ReconcileHit() { m.ReconcileTotal.WithLabelValues("hit").Inc() }

// ReconcileMiss implements reconcile.Observer.
func (m *Metrics) ReconcileMiss() { m.ReconcileTotal.WithLabelValues("miss").Inc() }

// RecordAction counts an action outcome.
func (m *Metrics) RecordAction(action string, ok bool) {
	m.ActionsTotal.WithLabelValues(action, result(ok)).Inc()
}

// ObserveWebhook records the duration of one webhook call.
func (m *Metrics) ObserveWebhook(endpoint string, ok bool, seconds float64) {
	m.WebhookDuration.WithLabelValues(endpoint, result(ok)).Observe(seconds)
}

// RealtimePublished counts one published event.
func (m *Metrics) RealtimePublished() { m.RealtimeEventsTotal.Inc() }

// SetRealtimeSubscribers sets the open subscription gauge.
func (m *Metrics) SetRealtimeSubscribers(n int) { m.RealtimeSubscribers.Set(float64(n)) }

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
