package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licensor"

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing, which keeps handlers free of nil checks in tests.
type Metrics struct {
	registry *prometheus.Registry

	redemptions       *prometheus.CounterVec
	licensesGenerated *prometheus.CounterVec
	trialReports      prometheus.Counter
	paymentRequests   *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors plus the
// service counters. db may be nil; when set its pool statistics are exported.
func New(db *sql.DB) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if db != nil {
		registry.MustRegister(collectors.NewDBStatsCollector(db, namespace))
	}

	m := &Metrics{
		registry: registry,
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "License redemption attempts by result.",
		}, []string{"result"}),
		licensesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "licenses_generated_total",
			Help:      "Licenses created, by source (generate, purchase, admin).",
		}, []string{"source"}),
		trialReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_reports_total",
			Help:      "Free trial counter reports accepted.",
		}),
		paymentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_requests_total",
			Help:      "Payment processor calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	registry.MustRegister(m.redemptions, m.licensesGenerated, m.trialReports, m.paymentRequests)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Redemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) LicenseGenerated(source string) {
	if m == nil {
		return
	}
	m.licensesGenerated.WithLabelValues(source).Inc()
}

func (m *Metrics) TrialReported() {
	if m == nil {
		return
	}
	m.trialReports.Inc()
}

func (m *Metrics) PaymentRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.paymentRequests.WithLabelValues(operation, outcome).Inc()
}
